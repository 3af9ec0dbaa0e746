package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	// Provider selects which gateway variant creates charges. Webhook
	// verification stays available for every configured variant.
	Provider        string `env:"PROVIDER" envDefault:"cardrail"`
	CheckoutBaseURL string `env:"CHECKOUT_BASE_URL" envDefault:"http://localhost:8080"`

	CardRailBaseURL            string `env:"CARDRAIL_BASE_URL" envDefault:"http://mock-provider:8081"`
	CardRailWebhookSecret      string `env:"CARDRAIL_WEBHOOK_SECRET,required"`
	CryptoInvoiceBaseURL       string `env:"CRYPTOINVOICE_BASE_URL" envDefault:""`
	CryptoInvoiceWebhookSecret string `env:"CRYPTOINVOICE_WEBHOOK_SECRET" envDefault:""`
	WebhookCallbackURL         string `env:"WEBHOOK_CALLBACK_URL" envDefault:"http://app:8080/webhooks/cardrail"`

	// Settlement conversion. An empty destination address disables the
	// converter entirely: captured payments complete without conversion.
	SettlementAsset    string  `env:"SETTLEMENT_ASSET" envDefault:"USDT"`
	SettlementAddress  string  `env:"SETTLEMENT_ADDRESS" envDefault:""`
	SettlementNetwork  string  `env:"SETTLEMENT_NETWORK" envDefault:"TRC20"`
	ExchangeBaseURL    string  `env:"EXCHANGE_BASE_URL" envDefault:"http://mock-exchange:8082"`
	ExchangeAPIKey     string  `env:"EXCHANGE_API_KEY" envDefault:""`
	DefaultQuotePrice  float64 `env:"DEFAULT_QUOTE_PRICE" envDefault:"1.00"`
	ExchangeTimeoutS   int     `env:"EXCHANGE_TIMEOUT_S" envDefault:"30"`
	ConverterIntervalS int     `env:"CONVERTER_INTERVAL_S" envDefault:"2"`

	// ConversionStaleAfterS bounds how long a settling payment or running
	// job may sit untouched before it counts as orphaned by a crash and is
	// reclaimed. Must exceed the longest conversion attempt.
	ConversionStaleAfterS int `env:"CONVERSION_STALE_AFTER_S" envDefault:"600"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ConversionEnabled reports whether captured funds should be converted to
// the settlement asset. Without a destination address there is nothing to
// withdraw to, so capture is terminal success.
func (c *Config) ConversionEnabled() bool {
	return c.SettlementAddress != ""
}
