package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	PaymentTimeoutMinutes int
	SweepIntervalSeconds  int
	DefaultVATPercent     string
	BankName              string
	BankAccountNumber     string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	paymentTimeout, err := strconv.Atoi(getEnv("PAYMENT_TIMEOUT_MINUTES", "15"))
	if err != nil || paymentTimeout < 1 {
		paymentTimeout = 15
	}
	sweepInterval, err := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "60"))
	if err != nil || sweepInterval < 1 {
		sweepInterval = 60
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		PaymentTimeoutMinutes: paymentTimeout,
		SweepIntervalSeconds:  sweepInterval,
		DefaultVATPercent:     getEnv("DEFAULT_VAT_PERCENT", "0"),
		BankName:              getEnv("BANK_NAME", "VCB"),
		BankAccountNumber:     getEnv("BANK_ACCOUNT_NUMBER", "0000000000"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
