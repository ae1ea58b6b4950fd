package model

import (
	"fmt"
	"strings"
)

// Provider identifies an external fitness data source. The set is closed:
// every value the hub handles is one of the constants below.
type Provider string

const (
	ProviderFitbit        Provider = "fitbit"
	ProviderGoogleFit     Provider = "googlefit"
	ProviderSamsungHealth Provider = "samsunghealth"
	ProviderGarmin        Provider = "garmin"
	ProviderAppleHealth   Provider = "applehealth"
	ProviderMyFitnessPal  Provider = "myfitnesspal"
)

// SourceManual tags records entered by hand in the dashboard. It is a record
// source, not a provider: it has no credentials and no API.
const SourceManual Provider = "manual"

// Providers returns every provider in hub enumeration order. Merge falls back
// to this order when no primary provider candidate exists for a key.
func Providers() []Provider {
	return []Provider{
		ProviderFitbit,
		ProviderGoogleFit,
		ProviderSamsungHealth,
		ProviderGarmin,
		ProviderAppleHealth,
		ProviderMyFitnessPal,
	}
}

// ParseProvider converts a path or config value into a Provider. The manual
// source is accepted because it can receive snapshot imports.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == SourceManual {
		return p, nil
	}
	for _, known := range Providers() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Dialect is the authorization protocol a provider speaks.
type Dialect string

const (
	// DialectAuthCode is the redirect-based authorization-code flow with
	// bearer access tokens and refresh tokens.
	DialectAuthCode Dialect = "authorization_code"
	// DialectTwoStep is the request-token/access-token flow. Tokens issued
	// this way do not expire and are used to sign requests.
	DialectTwoStep Dialect = "two_step"
	// DialectNone covers sources with no redirect-based auth at all.
	DialectNone Dialect = "none"
)

// Dialect returns the authorization protocol for p.
func (p Provider) Dialect() Dialect {
	switch p {
	case ProviderGarmin:
		return DialectTwoStep
	case ProviderAppleHealth, SourceManual:
		return DialectNone
	default:
		return DialectAuthCode
	}
}

// DisplayName is the human-readable provider name used in logs and the CLI.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderFitbit:
		return "Fitbit"
	case ProviderGoogleFit:
		return "Google Fit"
	case ProviderSamsungHealth:
		return "Samsung Health"
	case ProviderGarmin:
		return "Garmin"
	case ProviderAppleHealth:
		return "Apple Health"
	case ProviderMyFitnessPal:
		return "MyFitnessPal"
	case SourceManual:
		return "Manual"
	default:
		return string(p)
	}
}

// Category is a kind of record the hub can unify.
type Category string

const (
	CategoryActivity  Category = "activity"
	CategorySleep     Category = "sleep"
	CategoryHeartRate Category = "heart_rate"
	CategoryNutrition Category = "nutrition"
	CategoryWater     Category = "water"
	CategoryWeight    Category = "weight"
)

// Categories returns all record categories.
func Categories() []Category {
	return []Category{
		CategoryActivity,
		CategorySleep,
		CategoryHeartRate,
		CategoryNutrition,
		CategoryWater,
		CategoryWeight,
	}
}

// ParseCategory accepts both "heart_rate" and "heart-rate" spellings.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCategory, s)
}
