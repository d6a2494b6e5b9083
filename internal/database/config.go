package database

import (
	"os"
)

// GetTestConfig returns database config for testing
func GetTestConfig() Config {
	return Config{
		Host:     getEnv("ARBITER_TEST_DB_HOST", "localhost"),
		Port:     5432,
		Database: getEnv("ARBITER_TEST_DB_NAME", "arbiter_test"),
		User:     getEnv("ARBITER_TEST_DB_USER", "arbiter"),
		Password: getEnv("ARBITER_TEST_DB_PASSWORD", "arbiter"),
		SSLMode:  "disable",
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
