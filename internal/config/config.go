package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const placeholderJWTSecret = "CHANGE_ME_PRODUCTION_JWT_SECRET"

type Config struct {
	ListenAddr string

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	MigrationsDir     string

	ContentDir string

	JWTSecret     string
	TokenTTLHours int

	TrustProxy         bool
	CORSAllowedOrigins []string

	CaptchaEnabled   bool
	CaptchaProvider  string
	CaptchaVerifyURL string
	CaptchaSecret    string

	PasswordMinLength int
	PasswordMaxLength int

	AdminMinLevel         int
	ArticleEditorMinLevel int

	BootstrapAdminUsername string
	BootstrapAdminPassword string

	LogLevel string
	LogDebug bool
	LogFile  string

	GeoIPDBPath string
	RedisURL    string

	DirectoryDBDriver    string
	DirectoryDBDSN       string
	DirectoryTable       string
	DirectoryUsernameCol string
	DirectoryPassCol     string
	DirectoryActiveCol   string

	NotifySender string
	NotifyFrom   string
	SMTPHost     string
	SMTPPort     int

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":5000"),
		DBPath:                   env("APP_DB_PATH", "./data/class_site.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		MigrationsDir:            env("MIGRATIONS_DIR", "migrations"),
		ContentDir:               env("CONTENT_DIR", "./static/articles"),
		JWTSecret:                env("JWT_SECRET", placeholderJWTSecret),
		TokenTTLHours:            envInt("TOKEN_TTL_HOURS", 168),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		CaptchaEnabled:           envBool("CAPTCHA_ENABLED", false),
		CaptchaProvider:          strings.ToLower(env("CAPTCHA_PROVIDER", "turnstile")),
		CaptchaVerifyURL:         env("CAPTCHA_VERIFY_URL", ""),
		CaptchaSecret:            env("CAPTCHA_SECRET", ""),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 6),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		AdminMinLevel:            envInt("ADMIN_MIN_LEVEL", 5),
		ArticleEditorMinLevel:    envInt("ARTICLE_EDITOR_MIN_LEVEL", 4),
		BootstrapAdminUsername:   env("BOOTSTRAP_ADMIN_USERNAME", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		LogDebug:                 envBool("LOG_DEBUG", false),
		LogFile:                  env("LOG_FILE", ""),
		GeoIPDBPath:              env("GEOIP_DB_PATH", ""),
		RedisURL:                 env("REDIS_URL", ""),
		DirectoryDBDriver:        env("DIRECTORY_DB_DRIVER", ""),
		DirectoryDBDSN:           env("DIRECTORY_DB_DSN", ""),
		DirectoryTable:           env("DIRECTORY_TABLE", "accounts"),
		DirectoryUsernameCol:     env("DIRECTORY_USERNAME_COL", "username"),
		DirectoryPassCol:         env("DIRECTORY_PASS_COL", "password_hash"),
		DirectoryActiveCol:       env("DIRECTORY_ACTIVE_COL", "active"),
		NotifySender:             strings.ToLower(env("NOTIFY_SENDER", "log")),
		NotifyFrom:               env("NOTIFY_FROM", "noreply@example.com"),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 25),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
	}

	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.TokenTTLHours <= 0 {
		return Config{}, fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" ||
		cfg.JWTSecret == placeholderJWTSecret ||
		len(cfg.JWTSecret) < 24 {
		return Config{}, fmt.Errorf("JWT_SECRET must be set to a strong non-default value (>=24 chars)")
	}
	if cfg.PasswordMinLength < 6 {
		return Config{}, fmt.Errorf("password min length must be >= 6")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if !validLevel(cfg.AdminMinLevel) || !validLevel(cfg.ArticleEditorMinLevel) {
		return Config{}, fmt.Errorf("ADMIN_MIN_LEVEL and ARTICLE_EDITOR_MIN_LEVEL must be within 1..6")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch cfg.NotifySender {
	case "", "log", "smtp":
		if cfg.NotifySender == "" {
			cfg.NotifySender = "log"
		}
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	if cfg.NotifySender == "smtp" && cfg.SMTPPort <= 0 {
		return Config{}, fmt.Errorf("invalid SMTP port")
	}
	switch strings.ToLower(cfg.DirectoryDBDriver) {
	case "", "mysql", "pgx", "postgres":
	default:
		return Config{}, fmt.Errorf("DIRECTORY_DB_DRIVER must be one of: mysql, pgx")
	}
	if cfg.CaptchaEnabled {
		if strings.TrimSpace(cfg.CaptchaSecret) == "" {
			return Config{}, fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
		if strings.TrimSpace(cfg.CaptchaVerifyURL) == "" {
			switch cfg.CaptchaProvider {
			case "turnstile", "":
				cfg.CaptchaVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
			case "hcaptcha":
				cfg.CaptchaVerifyURL = "https://hcaptcha.com/siteverify"
			default:
				return Config{}, fmt.Errorf("unsupported CAPTCHA_PROVIDER: %s", cfg.CaptchaProvider)
			}
		}
	}
	return cfg, nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func validLevel(l int) bool {
	return l >= 1 && l <= 6
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
