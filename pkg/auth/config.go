package auth

import "time"

type Config struct {
	SigningKey  string        `env:"AUTH_SIGNING_KEY,required"`
	Issuer      string        `env:"AUTH_ISSUER" envDefault:"quotakit"`
	TokenTTL    time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
	Leeway      time.Duration `env:"AUTH_LEEWAY" envDefault:"30s"`
	TokenHeader string        `env:"AUTH_TOKEN_HEADER"` // Optional header checked before Authorization, e.g. X-Api-Token.
}
