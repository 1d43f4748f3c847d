package billing

import "time"

// Provider names accepted by BILLING_PROVIDER.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
	ProviderHMAC   = "hmac"
)

type Config struct {
	Provider          string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	APIKey            string        `env:"BILLING_API_KEY"`
	WebhookSecret     string        `env:"BILLING_WEBHOOK_SECRET,required"`
	PaddleEnvironment string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	SignatureMaxAge   time.Duration `env:"BILLING_SIGNATURE_MAX_AGE" envDefault:"5m"`
}
