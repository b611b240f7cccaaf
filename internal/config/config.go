// Package config reads environment configuration, optionally seeded from a
// .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the working directory into the process
// environment. A missing file is not an error; deployed environments set
// real environment variables.
func Load() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}
}

// String returns the environment value for key, or fallback when unset or
// empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Int returns the environment value for key parsed as an int. Unset, empty,
// or unparseable values fall back.
func Int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an int, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// Duration returns the environment value for key parsed as a time.Duration
// (e.g. "30s", "5m"). Unset, empty, or unparseable values fall back.
func Duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}
