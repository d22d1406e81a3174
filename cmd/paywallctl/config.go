package main

import (
	"time"

	"github.com/dmitrymomot/paywall/pkg/config"
	"github.com/dmitrymomot/paywall/pkg/iap"
	"github.com/dmitrymomot/paywall/pkg/kvstore"
	"github.com/dmitrymomot/paywall/pkg/logger"
	"github.com/dmitrymomot/paywall/pkg/receipt"
	"github.com/dmitrymomot/paywall/pkg/subscription"
)

// Config is the complete paywallctl configuration, read from the environment.
type Config struct {
	Log     logger.Config
	Store   kvstore.Config
	Receipt receipt.Config
	Catalog subscription.CatalogConfig
	Engine  EngineConfig
	Paywall PaywallConfig
	Sandbox SandboxConfig
}

type EngineConfig struct {
	PurchaseTimeout time.Duration `env:"PURCHASE_TIMEOUT" envDefault:"90s"`
	CatalogTimeout  time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`
	StatusWindow    time.Duration `env:"STATUS_WINDOW" envDefault:"5s"`
	VerifyInterval  time.Duration `env:"VERIFY_INTERVAL" envDefault:"24h"`
}

type PaywallConfig struct {
	MaxDismissals   int           `env:"PAYWALL_MAX_DISMISSALS" envDefault:"2"`
	Debounce        time.Duration `env:"PAYWALL_DEBOUNCE" envDefault:"5s"`
	LoginDelay      time.Duration `env:"PAYWALL_LOGIN_DELAY" envDefault:"1500ms"`
	ForegroundDelay time.Duration `env:"PAYWALL_FOREGROUND_DELAY" envDefault:"3s"`
}

// SandboxConfig scripts the simulated store.
type SandboxConfig struct {
	UserID        string            `env:"SANDBOX_USER_ID" envDefault:"sandbox-user"`
	Outcome       string            `env:"SANDBOX_OUTCOME" envDefault:"success"`
	Delay         time.Duration     `env:"SANDBOX_DELAY" envDefault:"1s"`
	DropEvents    bool              `env:"SANDBOX_DROP_EVENTS"`
	CorruptPrices map[string]string `env:"SANDBOX_CORRUPT_PRICES"`
}

// outcome maps the configured outcome name to the sandbox behaviour.
func (c SandboxConfig) outcome() (iap.Outcome, error) {
	switch c.Outcome {
	case "success", "":
		return iap.OutcomeSuccess, nil
	case "cancel":
		return iap.OutcomeCancel, nil
	case "fail":
		return iap.OutcomeFail, nil
	case "manual":
		return iap.OutcomeManual, nil
	}
	return 0, errUnknownOutcome
}

// loadConfig reads the optional dotenv files and then the environment.
func loadConfig(envFiles ...string) (Config, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := config.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
