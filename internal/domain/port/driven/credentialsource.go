package driven

import (
	"context"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// CredentialSource hands provider clients a credential that is valid right
// now, refreshing it first if needed.
type CredentialSource interface {
	Provider() model.Provider
	EnsureValidToken(ctx context.Context) (model.Credential, error)
}
