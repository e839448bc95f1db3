// Package config resolves settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables.
const (
	EnvModels    = "FACEDETECT_MODELS"
	EnvLogLevel  = "FACEDETECT_LOG_LEVEL"
	EnvLogFormat = "FACEDETECT_LOG_FORMAT"
	EnvLogFile   = "FACEDETECT_LOG_FILE"
	EnvDB        = "FACEDETECT_DB"
)

// DefaultDatabaseURL is used when neither FACEDETECT_DB nor POSTGRES_HOST is set.
const DefaultDatabaseURL = "postgres://localhost:5432/facedetect"

// Config holds the settings shared by every command. Flags override it.
type Config struct {
	Models    string
	LogLevel  string `validate:"oneof=trace debug info warn warning error"`
	LogFormat string `validate:"oneof=diag pretty"`
	LogFile   string
	DBURL     string `validate:"required"`
}

// Load reads .env from the working directory, if present, and then the
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return &Config{
		Models:    os.Getenv(EnvModels),
		LogLevel:  getenv(EnvLogLevel, "info"),
		LogFormat: getenv(EnvLogFormat, "diag"),
		LogFile:   os.Getenv(EnvLogFile),
		DBURL:     databaseURL(),
	}, nil
}

// databaseURL builds the connection string the way the rest of the stack
// expects it: FACEDETECT_DB, then the POSTGRES_* variables, then the local default.
func databaseURL() string {
	if url := os.Getenv(EnvDB); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := getenv("POSTGRES_PORT", "5432")
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return DefaultDatabaseURL
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the `validate` tags of v and joins every violation into
// one readable error.
func Validate(v any) error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })

	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
