// Package config loads typed configuration from environment variables.
//
// Structs describe their variables with caarlos0/env tags. Load parses a type
// once per process and caches the result; Parse skips the cache. A .env file
// in the working directory is read before the first Load, and LoadEnv reads
// additional dotenv files explicitly. LoadYAML decodes a YAML file first and
// lets environment variables override individual fields.
//
//	type Config struct {
//	    BackendURL string        `env:"RECEIPT_BACKEND_URL"`
//	    Timeout    time.Duration `env:"RECEIPT_BACKEND_TIMEOUT" envDefault:"30s"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
package config
