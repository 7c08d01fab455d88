package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const devSecret = "shooting-arena-dev-secret-change-me"

type Config struct {
	Environment    string
	Port           string
	JWTSecret      string
	SessionTTL     time.Duration
	AllowedOrigins []string

	// Credential store: Postgres when DatabaseURL is set, the JSON file otherwise.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	UsersFile   string

	ExportEnabled bool
	ExportFile    string

	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	HitAnimationDelay time.Duration
	FreezeDuration    time.Duration
}

func FromEnv() (Config, error) {
	c := Config{}
	c.Environment = getenv("ENVIRONMENT", "development")
	c.Port = getenv("PORT", "3000")
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %q", c.Port)
	}

	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return Config{}, fmt.Errorf("JWT_SECRET is required in %s environment", c.Environment)
		}
		c.JWTSecret = devSecret
	}

	var err error
	if c.SessionTTL, err = time.ParseDuration(getenv("SESSION_TTL", "30m")); err != nil {
		return Config{}, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	c.DatabaseURL = os.Getenv("DATABASE_URL")
	if c.DBMaxConns, err = count("DB_MAX_CONNS", 10); err != nil {
		return Config{}, err
	}
	if c.DBMinConns, err = count("DB_MIN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if c.DBMinConns > c.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	c.UsersFile = getenv("USERS_FILE", "./data/users.json")
	c.ExportEnabled = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./arena-results.txt")

	c.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	c.S3Endpoint = os.Getenv("S3_ENDPOINT")
	c.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	c.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")

	if c.HitAnimationDelay, err = millis("HIT_ANIMATION_MS", 400); err != nil {
		return Config{}, err
	}
	if c.FreezeDuration, err = millis("FREEZE_MS", 400); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) IsDevelopment() bool { return c.Environment == "development" }

// S3Enabled reports whether all four S3 settings are present.
func (c Config) S3Enabled() bool {
	return c.S3BucketName != "" && c.S3Endpoint != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func millis(k string, def int) (time.Duration, error) {
	v, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive number of milliseconds", k)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func count(k string, def int) (int32, error) {
	v, err := strconv.ParseInt(getenv(k, strconv.Itoa(def)), 10, 32)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", k)
	}
	return int32(v), nil
}
