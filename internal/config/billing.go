package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// BillingConfig carries the business knobs of the billing routine. It is
// hot-reloaded from billing.yml.
type BillingConfig struct {
	// PilotAccounts limits the routine to the listed paid account ids.
	// Empty means every account is billed.
	PilotAccounts       []string      `mapstructure:"pilotAccounts"`
	GeneralPublicTaxIDs []string      `mapstructure:"generalPublicTaxIds"`
	FinanceMailbox      string        `mapstructure:"financeMailbox"`
	OperationsMailboxes []string      `mapstructure:"operationsMailboxes"`
	VATRate             string        `mapstructure:"vatRate"`
	FolioAllotment      int64         `mapstructure:"folioAllotmentPerCedis"`
	Currency            string        `mapstructure:"currency"`
	Country             string        `mapstructure:"country"`
	LockTTL             time.Duration `mapstructure:"lockTTL"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		GeneralPublicTaxIDs: []string{"XAXX010101000", "XEXX010101000"},
		FinanceMailbox:      "finanzas@alima.la",
		OperationsMailboxes: []string{"operaciones@alima.la"},
		VATRate:             "0.16",
		FolioAllotment:      200,
		Currency:            "MXN",
		Country:             "MX",
		LockTTL:             10 * time.Minute,
	}
}

// VAT returns the configured VAT rate as a decimal.
func (c BillingConfig) VAT() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.VATRate))
	if err != nil {
		return decimal.RequireFromString("0.16")
	}
	return rate
}

// IsPilotAccount reports whether the account passes the pilot filter.
func (c BillingConfig) IsPilotAccount(accountID string) bool {
	if len(c.PilotAccounts) == 0 {
		return true
	}
	for _, id := range c.PilotAccounts {
		if strings.EqualFold(strings.TrimSpace(id), accountID) {
			return true
		}
	}
	return false
}

// IsGeneralPublic reports whether the tax id is one of the generic
// "publico en general" RFCs.
func (c BillingConfig) IsGeneralPublic(taxID string) bool {
	taxID = strings.ToUpper(strings.TrimSpace(taxID))
	for _, generic := range c.GeneralPublicTaxIDs {
		if strings.ToUpper(strings.TrimSpace(generic)) == taxID {
			return true
		}
	}
	return false
}

func (c BillingConfig) withDefaults() BillingConfig {
	defaults := DefaultBillingConfig()
	if len(c.GeneralPublicTaxIDs) == 0 {
		c.GeneralPublicTaxIDs = defaults.GeneralPublicTaxIDs
	}
	if strings.TrimSpace(c.VATRate) == "" {
		c.VATRate = defaults.VATRate
	}
	if c.FolioAllotment <= 0 {
		c.FolioAllotment = defaults.FolioAllotment
	}
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = defaults.Currency
	}
	if strings.TrimSpace(c.Country) == "" {
		c.Country = defaults.Country
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed config, used by tests and one-shot commands.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/alima/config")
	v.AddConfigPath("/etc/alima")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ALIMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.generalPublicTaxIds", defaults.GeneralPublicTaxIDs)
	v.SetDefault("billing.financeMailbox", defaults.FinanceMailbox)
	v.SetDefault("billing.operationsMailboxes", defaults.OperationsMailboxes)
	v.SetDefault("billing.vatRate", defaults.VATRate)
	v.SetDefault("billing.folioAllotmentPerCedis", defaults.FolioAllotment)
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.country", defaults.Country)
	v.SetDefault("billing.lockTTL", defaults.LockTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	if _, err := decimal.NewFromString(strings.TrimSpace(cfg.VATRate)); err != nil {
		return errors.New("billing.vatRate must be a decimal")
	}
	if strings.TrimSpace(cfg.FinanceMailbox) == "" {
		return errors.New("billing.financeMailbox cannot be empty")
	}
	return nil
}
