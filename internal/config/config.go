// Package config loads service configuration from the environment.
// The consensus constants (funding threshold, registration fee, minimum
// responses, index buckets) are configuration, not hard-coded law.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds configuration for both services.
type Config struct {
	// Transport and storage endpoints.
	AppPort     string
	OraclePort  string
	AppURL      string
	NATSURL     string
	RedisAddr   string
	DatabaseURL string

	// Telemetry.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Layer owners and the genesis airline.
	AppOwner       string
	DataOwner      string
	GenesisAirline string
	JWTSecret      string

	// Consensus and underwriting constants.
	FundingThreshold decimal.Decimal
	RegistrationFee  decimal.Decimal
	PayoutMultiplier decimal.Decimal
	MinResponses     int
	IndexBuckets     int

	// Oracle daemon fleet size.
	OracleCount int
}

// Load reads configuration from environment variables, applying the
// defaults observed in the reference deployment.
func Load() (*Config, error) {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "8545"),
		OraclePort:  getEnv("ORACLE_PORT", "8546"),
		AppURL:      getEnv("APP_URL", "http://localhost:8545"),
		NATSURL:     getEnv("NATS_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "flightsurety"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "consensus"),

		AppOwner:       getEnv("APP_OWNER", "0xA0"),
		DataOwner:      getEnv("DATA_OWNER", "0xD0"),
		GenesisAirline: getEnv("GENESIS_AIRLINE", "0xA1"),
		JWTSecret:      getEnv("JWT_SECRET", "flightsurety-dev-secret"),
	}

	var err error
	if cfg.FundingThreshold, err = getEnvDecimal("FUNDING_THRESHOLD", "10"); err != nil {
		return nil, err
	}
	if cfg.RegistrationFee, err = getEnvDecimal("REGISTRATION_FEE", "1"); err != nil {
		return nil, err
	}
	if cfg.PayoutMultiplier, err = getEnvDecimal("PAYOUT_MULTIPLIER", "1.5"); err != nil {
		return nil, err
	}
	if cfg.MinResponses, err = getEnvInt("MIN_RESPONSES", 2); err != nil {
		return nil, err
	}
	if cfg.IndexBuckets, err = getEnvInt("INDEX_BUCKETS", 10); err != nil {
		return nil, err
	}
	if cfg.OracleCount, err = getEnvInt("ORACLE_COUNT", 20); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
