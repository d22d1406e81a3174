package subscription

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dmitrymomot/paywall/pkg/config"
)

// Plan is one purchasable product of the catalog. FallbackPrice is shown
// when the store reports no usable price for the product.
type Plan struct {
	ProductID     string `yaml:"product_id"`
	Tier          Tier   `yaml:"tier"`
	Title         string `yaml:"title"`
	Period        string `yaml:"period"`
	TrialPeriod   string `yaml:"trial_period,omitempty"`
	FallbackPrice string `yaml:"fallback_price"`
	Currency      string `yaml:"currency"`
}

// Catalog is the fixed set of plans the app sells.
// CorruptPrices lists display prices the store has been seen to report by
// mistake; they are replaced with the fallback price.
type Catalog struct {
	Plans         []Plan   `yaml:"plans"`
	Locale        string   `yaml:"locale" env:"PAYWALL_LOCALE"`
	CorruptPrices []string `yaml:"corrupt_prices" env:"PAYWALL_CORRUPT_PRICES"`
}

// CatalogConfig selects where the catalog comes from. With File set the
// catalog is read from YAML; otherwise the default catalog is used with the
// SKUs below.
type CatalogConfig struct {
	File         string `env:"PAYWALL_CATALOG_FILE"`
	MonthlySKU   string `env:"PAYWALL_MONTHLY_SKU" envDefault:"sub_monthly"`
	QuarterlySKU string `env:"PAYWALL_QUARTERLY_SKU" envDefault:"sub_quarterly"`
	Locale       string `env:"PAYWALL_LOCALE" envDefault:"en-US"`
}

// DefaultCatalog has a monthly and a quarterly plan, both with a 7-day trial.
func DefaultCatalog() Catalog {
	return Catalog{
		Plans: []Plan{
			{
				ProductID:     "sub_monthly",
				Tier:          TierMonthly,
				Title:         "Monthly",
				Period:        "P1M",
				TrialPeriod:   "P7D",
				FallbackPrice: "4.99",
				Currency:      "USD",
			},
			{
				ProductID:     "sub_quarterly",
				Tier:          TierQuarterly,
				Title:         "Quarterly",
				Period:        "P3M",
				TrialPeriod:   "P7D",
				FallbackPrice: "11.99",
				Currency:      "USD",
			},
		},
		Locale:        "en-US",
		CorruptPrices: []string{"$0.00", "$0.01", "$1,000,000.00"},
	}
}

// LoadCatalog builds the catalog described by cfg and validates it.
func LoadCatalog(cfg CatalogConfig) (Catalog, error) {
	if cfg.File != "" {
		var c Catalog
		if err := config.LoadYAML(cfg.File, &c); err != nil {
			return Catalog{}, errors.Join(ErrInvalidCatalog, err)
		}
		if c.Locale == "" {
			c.Locale = cfg.Locale
		}
		return c, c.Validate()
	}

	c := DefaultCatalog()
	if cfg.MonthlySKU != "" {
		c.Plans[0].ProductID = cfg.MonthlySKU
	}
	if cfg.QuarterlySKU != "" {
		c.Plans[1].ProductID = cfg.QuarterlySKU
	}
	if cfg.Locale != "" {
		c.Locale = cfg.Locale
	}
	return c, c.Validate()
}

func (c Catalog) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("%w: no plans", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(c.Plans))
	for _, p := range c.Plans {
		if p.ProductID == "" {
			return fmt.Errorf("%w: plan without product id", ErrInvalidCatalog)
		}
		if _, dup := seen[p.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product id %q", ErrInvalidCatalog, p.ProductID)
		}
		seen[p.ProductID] = struct{}{}

		if p.Tier == TierFree || !p.Tier.Valid() {
			return fmt.Errorf("%w: product %q has tier %q", ErrInvalidCatalog, p.ProductID, p.Tier)
		}
		amount, err := decimal.NewFromString(p.FallbackPrice)
		if err != nil || !amount.IsPositive() {
			return fmt.Errorf("%w: product %q has fallback price %q", ErrInvalidCatalog, p.ProductID, p.FallbackPrice)
		}
		if _, err := currency.ParseISO(p.Currency); err != nil {
			return fmt.Errorf("%w: product %q: %v", ErrInvalidCatalog, p.ProductID, err)
		}
	}
	return nil
}

// SKUs lists the product ids in catalog order.
func (c Catalog) SKUs() []string {
	out := make([]string, 0, len(c.Plans))
	for _, p := range c.Plans {
		out = append(out, p.ProductID)
	}
	return out
}

func (c Catalog) Plan(productID string) (Plan, bool) {
	i := slices.IndexFunc(c.Plans, func(p Plan) bool { return p.ProductID == productID })
	if i < 0 {
		return Plan{}, false
	}
	return c.Plans[i], true
}

// TierFor returns the tier a product grants, or TierFree for unknown products.
func (c Catalog) TierFor(productID string) Tier {
	if p, ok := c.Plan(productID); ok {
		return p.Tier
	}
	return TierFree
}

// FallbackProduct is the catalog entry shown when the store has no usable data.
func (c Catalog) FallbackProduct(p Plan) Product {
	return Product{
		ProductID:          p.ProductID,
		Title:              p.Title,
		Price:              p.FallbackPrice,
		Currency:           p.Currency,
		LocalizedPrice:     c.formatPrice(p.FallbackPrice, p.Currency),
		SubscriptionPeriod: p.Period,
		FreeTrialPeriod:    p.TrialPeriod,
	}
}

func (c Catalog) formatPrice(amount, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount + " " + code
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return amount + " " + code
	}

	tag := language.AmericanEnglish
	if c.Locale != "" {
		if t, err := language.Parse(c.Locale); err == nil {
			tag = t
		}
	}
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(d.InexactFloat64())))
}

// currencyShaped matches one number with an optional short symbol or code on
// either side, e.g. "$4.99", "4,99 €", "USD 11.99".
var currencyShaped = regexp.MustCompile(`^[^\d]{0,4}\d[\d.,\s\x{00A0}']*[^\d]{0,4}$`)

// usablePrice reports whether the store's price data for p can be shown.
func (c Catalog) usablePrice(p Product) bool {
	display := strings.TrimSpace(p.LocalizedPrice)
	if !strings.ContainsAny(display, "0123456789") || !currencyShaped.MatchString(display) {
		return false
	}
	if slices.Contains(c.CorruptPrices, display) {
		return false
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(p.Price))
	return err == nil && amount.IsPositive()
}

// sanitize keeps the requested products the store returned and replaces
// unusable prices with the plan's fallback.
func (c Catalog) sanitize(raw []Product, skus []string) (products []Product, replaced []string) {
	products = make([]Product, 0, len(raw))
	for _, p := range raw {
		if !slices.Contains(skus, p.ProductID) {
			continue
		}
		if !c.usablePrice(p) {
			if plan, ok := c.Plan(p.ProductID); ok {
				fb := c.FallbackProduct(plan)
				p.Price, p.Currency, p.LocalizedPrice = fb.Price, fb.Currency, fb.LocalizedPrice
				replaced = append(replaced, p.ProductID)
			}
		}
		products = append(products, p)
	}
	return products, replaced
}
