// Package config resolves creditd settings from flags, CREDITD_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/internal/driftreport"
	"github.com/MarkoPoloResearchLab/creditledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment variables, e.g. CREDITD_DATABASE_URL.
const EnvPrefix = "CREDITD"

// Keys shared by cobra flags and viper lookups.
const (
	KeyDatabaseURL        = "database-url"
	KeyPostgresDriver     = "postgres-driver"
	KeyGRPCListenAddr     = "grpc-listen-addr"
	KeyHTTPListenAddr     = "http-listen-addr"
	KeyGraceUnit          = "grace-unit"
	KeyMaxSpend           = "max-spend"
	KeyExemptUsers        = "exempt-users"
	KeyRequestTimeout     = "request-timeout"
	KeyAllowedOrigins     = "allowed-origins"
	KeyJWTSigningKey      = "jwt-signing-key"
	KeyJWTIssuer          = "jwt-issuer"
	KeyJWTCookieName      = "jwt-cookie-name"
	KeyAdminTokenHash     = "admin-token-hash"
	KeyWebhookTokenHash   = "webhook-token-hash"
	KeyWelcomeCredits     = "welcome-credits"
	KeyWalletHistoryLimit = "wallet-history-limit"
	KeyRedisURL           = "redis-url"
	KeyRedisStream        = "redis-stream"
	KeyReportBucket       = "report-bucket"
	KeyReportPrefix       = "report-prefix"
	KeyS3Region           = "s3-region"
	KeyS3EndpointURL      = "s3-endpoint-url"
	KeyS3AccessKeyID      = "s3-access-key-id"
	KeyS3SecretAccessKey  = "s3-secret-access-key"
)

const (
	DriverGORM = "gorm"
	DriverPGX  = "pgx"

	defaultDatabaseURL        = "sqlite:///tmp/creditd.db"
	defaultGRPCListenAddr     = ":7000"
	defaultHTTPListenAddr     = ":8080"
	defaultRequestTimeout     = 3 * time.Second
	defaultWelcomeCredits     = 20
	defaultWalletHistoryLimit = 10
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultReportPrefix       = "drift-reports"
)

// Config aggregates runtime settings for creditd.
type Config struct {
	DatabaseURL        string        `validate:"required"`
	PostgresDriver     string        `validate:"oneof=gorm pgx"`
	GRPCListenAddr     string        `validate:"required"`
	HTTPListenAddr     string        `validate:"required"`
	GraceUnit          int64         `validate:"gte=0"`
	MaxSpend           int64         `validate:"gt=0"`
	ExemptUsers        []string      `validate:"dive,required"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	AllowedOrigins     []string      `validate:"dive,url"`
	SessionSigningKey  string
	SessionIssuer      string `validate:"required"`
	SessionCookieName  string `validate:"required"`
	AdminTokenHash     string `validate:"omitempty,startswith=$2"`
	WebhookTokenHash   string `validate:"omitempty,startswith=$2"`
	WelcomeCredits     int64  `validate:"gte=0"`
	WalletHistoryLimit int    `validate:"gte=1,lte=200"`
	RedisURL           string `validate:"omitempty,url"`
	RedisStream        string
	ReportBucket       string
	ReportPrefix       string
	S3Region           string
	S3EndpointURL      string `validate:"omitempty,url"`
	S3AccessKeyID      string
	S3SecretAccessKey  string `validate:"required_with=S3AccessKeyID"`
}

// NewViper returns a viper instance reading CREDITD_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads path into the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads every key from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		DatabaseURL:        v.GetString(KeyDatabaseURL),
		PostgresDriver:     v.GetString(KeyPostgresDriver),
		GRPCListenAddr:     v.GetString(KeyGRPCListenAddr),
		HTTPListenAddr:     v.GetString(KeyHTTPListenAddr),
		GraceUnit:          v.GetInt64(KeyGraceUnit),
		MaxSpend:           v.GetInt64(KeyMaxSpend),
		ExemptUsers:        ParseList(v.GetString(KeyExemptUsers)),
		RequestTimeout:     v.GetDuration(KeyRequestTimeout),
		AllowedOrigins:     ParseList(v.GetString(KeyAllowedOrigins)),
		SessionSigningKey:  v.GetString(KeyJWTSigningKey),
		SessionIssuer:      v.GetString(KeyJWTIssuer),
		SessionCookieName:  v.GetString(KeyJWTCookieName),
		AdminTokenHash:     strings.TrimSpace(v.GetString(KeyAdminTokenHash)),
		WebhookTokenHash:   strings.TrimSpace(v.GetString(KeyWebhookTokenHash)),
		WelcomeCredits:     v.GetInt64(KeyWelcomeCredits),
		WalletHistoryLimit: v.GetInt(KeyWalletHistoryLimit),
		RedisURL:           v.GetString(KeyRedisURL),
		RedisStream:        v.GetString(KeyRedisStream),
		ReportBucket:       v.GetString(KeyReportBucket),
		ReportPrefix:       v.GetString(KeyReportPrefix),
		S3Region:           v.GetString(KeyS3Region),
		S3EndpointURL:      v.GetString(KeyS3EndpointURL),
		S3AccessKeyID:      v.GetString(KeyS3AccessKeyID),
		S3SecretAccessKey:  v.GetString(KeyS3SecretAccessKey),
	}
	if !v.IsSet(KeyGraceUnit) {
		cfg.GraceUnit = ledger.DefaultSpendPolicy().GraceUnit.Int64()
	}
	if !v.IsSet(KeyWelcomeCredits) {
		cfg.WelcomeCredits = defaultWelcomeCredits
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies defaults and checks the struct tags.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.PostgresDriver = strings.ToLower(defaultIfEmpty(cfg.PostgresDriver, DriverGORM))
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	if cfg.MaxSpend == 0 {
		cfg.MaxSpend = ledger.DefaultSpendPolicy().MaxSpend.Int64()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.WalletHistoryLimit == 0 {
		cfg.WalletHistoryLimit = defaultWalletHistoryLimit
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.ReportPrefix = defaultIfEmpty(cfg.ReportPrefix, defaultReportPrefix)
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateServe checks the settings only the serve command needs.
func (cfg Config) ValidateServe() error {
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%s is required", KeyJWTSigningKey)
	}
	return nil
}

// ServiceOptions translates policy settings into ledger options.
func (cfg Config) ServiceOptions() []ledger.ServiceOption {
	return []ledger.ServiceOption{
		ledger.WithSpendPolicy(ledger.SpendPolicy{GraceUnit: ledger.Credits(cfg.GraceUnit), MaxSpend: ledger.PositiveCredits(cfg.MaxSpend)}),
		ledger.WithExemptionPolicy(ledger.NewStaticExemptions(cfg.ExemptUsers...)),
	}
}

// HTTP returns the HTTP surface settings.
func (cfg Config) HTTP() httpapi.Config {
	return httpapi.Config{
		AllowedOrigins:     cfg.AllowedOrigins,
		SessionSigningKey:  cfg.SessionSigningKey,
		SessionIssuer:      cfg.SessionIssuer,
		SessionCookieName:  cfg.SessionCookieName,
		AdminTokenHash:     cfg.AdminTokenHash,
		WebhookTokenHash:   cfg.WebhookTokenHash,
		RequestTimeout:     cfg.RequestTimeout,
		WelcomeCredits:     cfg.WelcomeCredits,
		WalletHistoryLimit: cfg.WalletHistoryLimit,
	}
}

// S3 returns the drift report archive settings.
func (cfg Config) S3() driftreport.S3Config {
	return driftreport.S3Config{
		Region:          cfg.S3Region,
		Bucket:          cfg.ReportBucket,
		Prefix:          cfg.ReportPrefix,
		EndpointURL:     cfg.S3EndpointURL,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}
}

// ParseList splits a comma-delimited value into trimmed, non-empty items.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
