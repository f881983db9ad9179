// Package config resolves the runtime configuration from the environment,
// an optional .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

type Config struct {
	Port       string
	AppEnv     string
	AppURL     string
	CORSOrigin string
	LogLevel   string

	DBURL     string
	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeProductID     string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	GoogleFrontendRedirect string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string

	ResetTokenSweepInterval time.Duration
	RateLimitRPS            int
	RateLimitBurst          int
}

func (c *Config) Production() bool { return c.AppEnv == "production" }

func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func (c *Config) SMTPEnabled() bool { return c.SMTPHost != "" && c.SMTPFrom != "" }

func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c *Config) S3Enabled() bool { return c.S3Bucket != "" && c.S3AccessKeyID != "" }

var keys = []string{
	"port", "app_env", "app_url", "cors_origin", "log_level",
	"db_url", "jwt_secret",
	"stripe_secret_key", "stripe_webhook_secret", "stripe_product_id",
	"smtp_host", "smtp_port", "smtp_user", "smtp_password", "smtp_from",
	"google_client_id", "google_client_secret", "google_redirect_url", "google_frontend_redirect",
	"s3_bucket", "s3_region", "s3_endpoint", "s3_access_key_id", "s3_secret_access_key", "s3_public_url",
	"reset_token_sweep_interval", "rate_limit_rps", "rate_limit_burst",
}

// Load reads .env (if any), binds every known key to its upper-case
// environment variable and returns a validated Config.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	fs := pflag.NewFlagSet("saas-portal", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to an optional config.toml")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for _, k := range keys {
		if err := v.BindEnv(k, toEnv(k)); err != nil {
			return nil, err
		}
	}

	v.SetDefault("port", "8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("app_url", "http://localhost:3000")
	v.SetDefault("cors_origin", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("s3_region", "auto")
	v.SetDefault("reset_token_sweep_interval", "0s")
	v.SetDefault("rate_limit_rps", 1)
	v.SetDefault("rate_limit_burst", 5)

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file, %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		Port:       v.GetString("port"),
		AppEnv:     v.GetString("app_env"),
		AppURL:     v.GetString("app_url"),
		CORSOrigin: v.GetString("cors_origin"),
		LogLevel:   v.GetString("log_level"),

		DBURL:     v.GetString("db_url"),
		JWTSecret: v.GetString("jwt_secret"),

		StripeSecretKey:     v.GetString("stripe_secret_key"),
		StripeWebhookSecret: v.GetString("stripe_webhook_secret"),
		StripeProductID:     v.GetString("stripe_product_id"),

		SMTPHost:     v.GetString("smtp_host"),
		SMTPPort:     v.GetInt("smtp_port"),
		SMTPUser:     v.GetString("smtp_user"),
		SMTPPassword: v.GetString("smtp_password"),
		SMTPFrom:     v.GetString("smtp_from"),

		GoogleClientID:         v.GetString("google_client_id"),
		GoogleClientSecret:     v.GetString("google_client_secret"),
		GoogleRedirectURL:      v.GetString("google_redirect_url"),
		GoogleFrontendRedirect: v.GetString("google_frontend_redirect"),

		S3Bucket:          v.GetString("s3_bucket"),
		S3Region:          v.GetString("s3_region"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3AccessKeyID:     v.GetString("s3_access_key_id"),
		S3SecretAccessKey: v.GetString("s3_secret_access_key"),
		S3PublicURL:       v.GetString("s3_public_url"),

		ResetTokenSweepInterval: v.GetDuration("reset_token_sweep_interval"),
		RateLimitRPS:            v.GetInt("rate_limit_rps"),
		RateLimitBurst:          v.GetInt("rate_limit_burst"),
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.DBURL == "" {
		return errors.New("missing required environment variable: DB_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("missing required environment variable: JWT_SECRET")
	}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ResetTokenSweepInterval < 0 {
		return errors.New("RESET_TOKEN_SWEEP_INTERVAL can't be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit values must be bigger than 0")
	}
	if c.SMTPHost != "" && c.SMTPPort <= 0 {
		return errors.New("invalid SMTP_PORT")
	}
	return nil
}

func toEnv(key string) string { return strings.ToUpper(key) }
