package receipt

import "time"

// Config configures the validation chain. Leaving both BackendURL and
// VendorURL empty enables optimistic validation in development and makes
// every validation fail with ErrNotConfigured elsewhere.
type Config struct {
	Env string `env:"APP_ENV" envDefault:"development"`

	BackendURL     string        `env:"RECEIPT_BACKEND_URL"`
	BackendTimeout time.Duration `env:"RECEIPT_BACKEND_TIMEOUT" envDefault:"30s"`
	BackendRetries int           `env:"RECEIPT_BACKEND_RETRIES" envDefault:"2"`

	VendorURL     string        `env:"AMAZON_RVS_URL"`
	DeveloperID   string        `env:"AMAZON_DEVELOPER_SECRET"`
	AccessToken   string        `env:"AMAZON_RVS_ACCESS_TOKEN"`
	VendorTimeout time.Duration `env:"AMAZON_RVS_TIMEOUT" envDefault:"15s"`
	Sandbox       bool          `env:"AMAZON_SANDBOX" envDefault:"false"`

	CacheSize int           `env:"RECEIPT_CACHE_SIZE" envDefault:"256"`
	CacheTTL  time.Duration `env:"RECEIPT_CACHE_TTL" envDefault:"10m"`
}

func (c Config) backendConfigured() bool {
	return c.BackendURL != ""
}

func (c Config) vendorConfigured() bool {
	return c.VendorURL != "" && c.DeveloperID != ""
}
