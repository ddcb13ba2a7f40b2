package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Port        string
	DBDriver    string
	DatabaseURL string
	Environment string

	RedisURL      string
	EventsChannel string

	BusinessTimezone string
	ContractPrefix   string
	Company          Company
}

// Company identifies the lender on printed contracts.
type Company struct {
	Name    string
	Address string
	License string
	Phone   string
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:      getEnv("DATABASE_URL", "pawnledger.db"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		RedisURL:         getEnv("REDIS_URL", ""),
		EventsChannel:    getEnv("EVENTS_CHANNEL", "pawnledger.events"),
		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "Asia/Jakarta"),
		ContractPrefix:   getEnv("CONTRACT_PREFIX", "GDI"),
		Company: Company{
			Name:    getEnv("COMPANY_NAME", "PT Gadai Dana Indonesia"),
			Address: getEnv("COMPANY_ADDRESS", "Jakarta"),
			License: getEnv("COMPANY_LICENSE", ""),
			Phone:   getEnv("COMPANY_PHONE", ""),
		},
	}
}

// Location resolves BusinessTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
