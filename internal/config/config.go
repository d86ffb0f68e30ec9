package config

import "time"

// Config is the full service configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Uploads      UploadsConfig      `mapstructure:"uploads"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	OTP          OTPConfig          `mapstructure:"otp"`
	Mail         MailConfig         `mapstructure:"mail"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Commit      string `mapstructure:"commit"`
	BuildTime   string `mapstructure:"build_time"`
}

func (a AppConfig) IsDevelopment() bool { return a.Environment == "development" || a.Environment == "" }

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
	StaticDir       string        `mapstructure:"static_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type CatalogConfig struct {
	Path           string        `mapstructure:"path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type AdminConfig struct {
	Email        string        `mapstructure:"email"`
	Password     string        `mapstructure:"password"`
	PasswordHash string        `mapstructure:"password_hash"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Verification modes.
const (
	VerificationOTP    = "otp"
	VerificationHeader = "header"
)

type VerificationConfig struct {
	Mode string `mapstructure:"mode"`
}

type OTPConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxPerHour  int           `mapstructure:"max_per_hour"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Mail providers.
const (
	MailLog  = "log"
	MailSMTP = "smtp"
	MailSES  = "ses"
)

type MailConfig struct {
	Provider string        `mapstructure:"provider"`
	From     string        `mapstructure:"from"`
	Brand    string        `mapstructure:"brand"`
	Timeout  time.Duration `mapstructure:"timeout"`
	SMTP     SMTPConfig    `mapstructure:"smtp"`
	SES      SESConfig     `mapstructure:"ses"`
}

type SMTPConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	User   string `mapstructure:"user"`
	Pass   string `mapstructure:"pass"`
	Secure bool   `mapstructure:"secure"`
}

type SESConfig struct {
	Region string `mapstructure:"region"`
}

type NotifyConfig struct {
	SubmissionTo string `mapstructure:"submission_to"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JobsConfig struct {
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}
