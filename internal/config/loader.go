package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-me"

// Options tweak where Load looks for its inputs.
type Options struct {
	// ConfigPaths are searched for config.yaml and config.<env>.yaml.
	ConfigPaths []string
	// SkipEnvFile disables .env discovery.
	SkipEnvFile bool
}

// Load reads .env, configs/config.yaml, configs/config.<env>.yaml and the
// process environment, in increasing priority.
func Load() (*Config, error) {
	return LoadWith(Options{})
}

func LoadWith(opts Options) (*Config, error) {
	if !opts.SkipEnvFile {
		loadEnvFile()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	paths := opts.ConfigPaths
	if len(paths) == 0 {
		paths = []string{"./configs", "../../configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = v.GetString("app.environment")
	}
	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.App.Environment = env
	applyLegacyOverrides(&cfg)
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "CSAT Survey")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.commit", "")
	v.SetDefault("app.build_time", "")

	v.SetDefault("server.addr", ":4000")
	v.SetDefault("server.allowed_origin", "http://localhost:5173")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", filepath.Join("data", "db.sqlite"))
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("catalog.path", filepath.Join("data", "questions.json"))
	v.SetDefault("catalog.reload_interval", 10*time.Second)

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max_bytes", int64(10<<20))

	v.SetDefault("admin.email", "admin@example.com")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.token_ttl", 7*24*time.Hour)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("verification.mode", VerificationOTP)

	v.SetDefault("otp.ttl", 10*time.Minute)
	v.SetDefault("otp.max_per_hour", 5)
	v.SetDefault("otp.max_attempts", 6)

	v.SetDefault("mail.provider", MailLog)
	v.SetDefault("mail.from", "CSAT Survey <no-reply@example.com>")
	v.SetDefault("mail.brand", "")
	v.SetDefault("mail.timeout", 60*time.Second)
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.user", "")
	v.SetDefault("mail.smtp.pass", "")
	v.SetDefault("mail.smtp.secure", false)
	v.SetDefault("mail.ses.region", "")

	v.SetDefault("notify.submission_to", "")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("jobs.purge_interval", 15*time.Minute)
}

// bindLegacyEnv keeps the environment names older deployments already use.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string][]string{
		"auth.jwt_secret":       {"AUTH_JWT_SECRET", "JWT_SECRET"},
		"admin.email":           {"ADMIN_EMAIL"},
		"admin.password":        {"ADMIN_PASSWORD"},
		"admin.password_hash":   {"ADMIN_PASSWORD_HASH"},
		"server.allowed_origin": {"SERVER_ALLOWED_ORIGIN", "APP_ORIGIN"},
		"database.path":         {"DATABASE_PATH", "DB_PATH"},
		"mail.smtp.host":        {"MAIL_SMTP_HOST", "SMTP_HOST"},
		"mail.smtp.port":        {"MAIL_SMTP_PORT", "SMTP_PORT"},
		"mail.smtp.user":        {"MAIL_SMTP_USER", "SMTP_USER"},
		"mail.smtp.pass":        {"MAIL_SMTP_PASS", "SMTP_PASS"},
		"mail.smtp.secure":      {"MAIL_SMTP_SECURE", "SMTP_SECURE"},
		"mail.from":             {"MAIL_FROM", "SMTP_FROM"},
		"mail.brand":            {"MAIL_BRAND", "BRAND_NAME"},
		"app.name":              {"APP_NAME"},
		"redis.address":         {"REDIS_ADDRESS", "REDIS_ADDR"},
	}
	for key, envs := range legacy {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// applyLegacyOverrides handles legacy variables whose shape differs from the
// config key.
func applyLegacyOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	if m := os.Getenv("OTP_TTL_MINUTES"); m != "" && os.Getenv("OTP_TTL") == "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			cfg.OTP.TTL = time.Duration(n) * time.Minute
		}
	}
	if cfg.Mail.SMTP.Port == 465 {
		cfg.Mail.SMTP.Secure = true
	}
}

func normalize(cfg *Config) {
	cfg.Admin.Email = strings.ToLower(strings.TrimSpace(cfg.Admin.Email))
	cfg.Verification.Mode = strings.ToLower(strings.TrimSpace(cfg.Verification.Mode))
	cfg.Mail.Provider = strings.ToLower(strings.TrimSpace(cfg.Mail.Provider))
	if cfg.Mail.Brand == "" {
		cfg.Mail.Brand = cfg.App.Name
	}
	if cfg.Auth.JWTSecret == "" && cfg.App.IsDevelopment() {
		cfg.Auth.JWTSecret = devJWTSecret
	}
	if cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "" && cfg.App.IsDevelopment() {
		cfg.Admin.Password = "change-me"
	}
}

// Validate reports the first configuration problem found.
func Validate(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required outside development")
	}
	if cfg.Admin.Email == "" {
		return errors.New("admin.email is required")
	}
	if cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "" {
		return errors.New("admin.password or admin.password_hash is required")
	}
	if cfg.Admin.TokenTTL <= 0 {
		return errors.New("admin.token_ttl must be positive")
	}
	switch cfg.Verification.Mode {
	case VerificationOTP, VerificationHeader:
	default:
		return fmt.Errorf("verification.mode must be %q or %q, got %q", VerificationOTP, VerificationHeader, cfg.Verification.Mode)
	}
	if cfg.OTP.TTL <= 0 || cfg.OTP.MaxPerHour <= 0 || cfg.OTP.MaxAttempts <= 0 {
		return errors.New("otp.ttl, otp.max_per_hour and otp.max_attempts must be positive")
	}
	switch cfg.Mail.Provider {
	case MailLog:
	case MailSMTP:
		if cfg.Mail.SMTP.Host == "" {
			return errors.New("mail.smtp.host is required for the smtp provider")
		}
	case MailSES:
		if cfg.Mail.SES.Region == "" {
			return errors.New("mail.ses.region is required for the ses provider")
		}
	default:
		return fmt.Errorf("unknown mail.provider %q", cfg.Mail.Provider)
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if cfg.Catalog.Path == "" {
		return errors.New("catalog.path is required")
	}
	if cfg.Uploads.MaxBytes <= 0 {
		return errors.New("uploads.max_bytes must be positive")
	}
	return nil
}

func loadEnvFile() {
	candidates := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		s, ok := v.Get(key).(string)
		if !ok || !strings.Contains(s, "${") {
			continue
		}
		if expanded := os.ExpandEnv(s); expanded != s {
			v.Set(key, expanded)
		}
	}
}
