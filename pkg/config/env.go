package config

import "strings"

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// IsProductionLike reports whether the environment requires production-grade
// configuration (explicit database host, real JWT secret, remote broker).
func IsProductionLike(environment string) bool {
	switch strings.ToLower(environment) {
	case EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}
