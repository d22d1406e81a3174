package environment

import "strings"

// Environment represents application environment.
type Environment string

const (
	// Development for development environment.
	Development Environment = "development"
	// Production for production environment.
	Production Environment = "production"
	// Staging for staging environment.
	Staging Environment = "staging"
)

// Parse maps a raw APP_ENV value, including the short aliases
// "dev", "stage" and "prod", onto an Environment. Empty and unknown values
// are treated as development.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}

// IsProduction reports whether e is production.
func (e Environment) IsProduction() bool {
	return e == Production
}

// IsStaging reports whether e is staging.
func (e Environment) IsStaging() bool {
	return e == Staging
}

// IsDevelopment reports whether e is development or an unrecognised value.
func (e Environment) IsDevelopment() bool {
	return e != Production && e != Staging
}

func (e Environment) String() string {
	return string(e)
}
