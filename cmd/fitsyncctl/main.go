// Command fitsyncctl inspects and drives the fitness hub from a terminal,
// against the same store the server uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/fitsync/internal/application"
	"github.com/ericfisherdev/fitsync/internal/bootstrap"
	"github.com/ericfisherdev/fitsync/internal/config"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one command line. The hub is closed even when the command
// fails, since cobra skips post-run hooks on error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if closeErr := c.app.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// cli holds state shared by every subcommand.
type cli struct {
	envFiles []string
	verbose  bool
	app      *bootstrap.App
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:          "fitsyncctl",
		Short:        "Inspect and drive the fitness integration hub",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files to preload")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		c.statusCmd(),
		c.authURLsCmd(),
		c.logoutCmd(),
		c.fetchCmd(),
		c.importCmd(),
	)
	return root, c
}

func (c *cli) open(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(c.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}
	c.app = app
	return nil
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status for every provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := c.app.Hub.Status(cmd.Context())
			return printStatus(cmd.OutOrStdout(), status)
		},
	}
}

func printStatus(out io.Writer, status map[model.Provider]application.ProviderStatus) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tDIALECT\tSTATE\tDETAIL")
	for _, p := range model.Providers() {
		st, ok := status[p]
		if !ok {
			continue
		}
		if st.Dialect == model.DialectNone {
			detail := "never synced"
			if st.LastSynced != nil {
				detail = "last synced " + st.LastSynced.Local().Format(time.DateTime)
			}
			state := "unsupported"
			if st.Supported {
				state = "supported"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.DisplayName(), st.Dialect, state, detail)
			continue
		}
		detail := "configured"
		if !st.Configured {
			detail = "not configured"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.DisplayName(), st.Dialect, st.State, detail)
	}
	return tw.Flush()
}

func (c *cli) authURLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-urls",
		Short: "Print a consent URL for every configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			urls := c.app.Hub.AuthorizationURLs(cmd.Context())

			providers := make([]model.Provider, 0, len(urls))
			for p := range urls {
				providers = append(providers, p)
			}
			sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

			out := cmd.OutOrStdout()
			for _, p := range providers {
				u := urls[p]
				if u == nil {
					fmt.Fprintf(out, "%s: not configured\n", p)
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", p, *u)
			}
			return nil
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [provider]",
		Short: "Disconnect one provider, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if err := c.app.Hub.LogoutAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all providers disconnected")
				return nil
			}

			p, err := model.ParseProvider(args[0])
			if err != nil {
				return err
			}
			if err := c.app.Hub.Logout(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disconnected\n", p)
			return nil
		},
	}
}

func (c *cli) fetchCmd() *cobra.Command {
	today := time.Now().Format(model.DateLayout)
	var start, end string

	cmd := &cobra.Command{
		Use:   "fetch <category>",
		Short: "Print unified records of one category as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := model.ParseCategory(args[0])
			if err != nil {
				return err
			}
			r, err := model.NewDateRange(start, end)
			if err != nil {
				return err
			}

			records, err := c.app.Hub.Data(cmd.Context(), category, r)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
	cmd.Flags().StringVar(&start, "start", today, "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", today, "last date (YYYY-MM-DD)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <applehealth|manual> <file.json>",
		Short: "Import a snapshot of records for a source without an API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := model.ParseProvider(args[0])
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap model.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}

			n, err := c.app.Hub.ImportSnapshot(cmd.Context(), p, snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records for %s\n", n, p)
			return nil
		},
	}
}
