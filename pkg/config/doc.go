// Package config loads typed configuration from the environment.
//
// Load parses a struct annotated with github.com/caarlos0/env/v11 tags and
// caches it per type, so packages can share one parsed copy. A .env file in
// the working directory is read with github.com/joho/godotenv on first use;
// LoadEnv reads additional files explicitly. ResetCache is meant for tests.
package config
