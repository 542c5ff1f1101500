// Package config loads runtime settings from the environment and mandate
// definitions from YAML files.
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds client and engine configuration.
type Config struct {
	Sandbox       bool
	Secret        string
	MandateID     string
	LogLevel      string
	LogFormat     string
	Store         string
	MandatesFile  string
	NotarySeedHex string
	OTLPEndpoint  string
	OTLPInsecure  bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	sandbox := os.Getenv("KORA_SANDBOX")

	logLevel := os.Getenv("KORA_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	logFormat := os.Getenv("KORA_LOG_FORMAT")
	if logFormat == "" {
		logFormat = "text"
	}

	store := os.Getenv("KORA_STORE")
	if store == "" {
		store = "memory"
	}

	return &Config{
		Sandbox:       sandbox == "true" || sandbox == "1",
		Secret:        os.Getenv("KORA_SECRET"),
		MandateID:     os.Getenv("KORA_MANDATE"),
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		Store:         store,
		MandatesFile:  os.Getenv("KORA_MANDATES_FILE"),
		NotarySeedHex: os.Getenv("KORA_NOTARY_SEED"),
		OTLPEndpoint:  os.Getenv("KORA_OTLP_ENDPOINT"),
		OTLPInsecure:  os.Getenv("KORA_OTLP_INSECURE") == "true",
	}
}

// NotarySeed decodes KORA_NOTARY_SEED. It returns nil when unset.
func (c *Config) NotarySeed() ([]byte, error) {
	if c.NotarySeedHex == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.NotarySeedHex)
	if err != nil {
		return nil, fmt.Errorf("config: KORA_NOTARY_SEED is not hex: %w", err)
	}
	return seed, nil
}

// Level parses LogLevel, falling back to Info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds a text or JSON logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
