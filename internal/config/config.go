package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Config holds all application configuration.
type Config struct {
	Email       EmailConfig     `mapstructure:"email"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Redis       RedisConfig     `mapstructure:"redis"`
	SQS         SQSConfig       `mapstructure:"sqs"`
	Templates   TemplatesConfig `mapstructure:"templates"`
	DKIM        DKIMConfig      `mapstructure:"dkim"`
	Output      OutputConfig    `mapstructure:"output"`
	API         APIConfig       `mapstructure:"api"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	FrontendURL string          `mapstructure:"frontend_url"`
}

// EmailConfig selects and configures the outbound transport.
type EmailConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Transport    string        `mapstructure:"transport"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Secure       bool          `mapstructure:"secure"`
	StartTLS     string        `mapstructure:"starttls"`
	From         string        `mapstructure:"from"`
	ReplyTo      string        `mapstructure:"reply_to"`
	APIKey       string        `mapstructure:"api_key"`
	AccountToken string        `mapstructure:"account_token"`
	Domain       string        `mapstructure:"domain"`
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TransportType returns the configured transport, or "stdout" when sending
// is disabled.
func (c EmailConfig) TransportType() string {
	if !c.Enabled {
		return "stdout"
	}
	return c.Transport
}

// QueueConfig holds queue adapter settings. MaxAttempts and RetryDelay are
// parsed by Load with lenient fallbacks, so they bypass mapstructure.
type QueueConfig struct {
	Broker          string        `mapstructure:"broker"`
	Name            string        `mapstructure:"name"`
	DeadLetterName  string        `mapstructure:"dead_letter_name"`
	DelayedName     string        `mapstructure:"delayed_name"`
	Group           string        `mapstructure:"group"`
	Concurrency     int           `mapstructure:"concurrency"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ReclaimIdle     time.Duration `mapstructure:"reclaim_idle"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`

	MaxAttempts int           `mapstructure:"-"`
	RetryDelay  time.Duration `mapstructure:"-"`
}

// RedisConfig holds the broker connection, consulted only in durable mode.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SQSConfig holds the SQS broker settings.
type SQSConfig struct {
	QueueURL          string `mapstructure:"queue_url"`
	DLQueueURL        string `mapstructure:"dlq_url"`
	Region            string `mapstructure:"region"`
	WaitTime          int32  `mapstructure:"wait_time"`
	VisibilityTimeout int32  `mapstructure:"visibility_timeout"`
}

// TemplatesConfig lists template search roots in priority order.
type TemplatesConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

// DKIMConfig enables DKIM signing on the SMTP transport when Selector is set.
type DKIMConfig struct {
	Selector   string `mapstructure:"selector"`
	Domain     string `mapstructure:"domain"`
	KeyPath    string `mapstructure:"key_path"`
	PrivateKey string `mapstructure:"private_key"`
}

// OutputConfig backs the file transport with a local or S3 message store.
type OutputConfig struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// APIConfig holds admin HTTP API configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthConfig holds admin API token settings.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	Issuer          string        `mapstructure:"issuer"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	RateLimitHourly int           `mapstructure:"rate_limit_hourly"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// envBindings maps config keys to the environment names the CERMONT
// deployment already uses. Other keys accept NOTIFIER_<SECTION>_<KEY>.
var envBindings = map[string]string{
	"email.enabled":       "EMAIL_ENABLED",
	"email.transport":     "EMAIL_TRANSPORT",
	"email.host":          "EMAIL_HOST",
	"email.port":          "EMAIL_PORT",
	"email.user":          "EMAIL_USER",
	"email.password":      "EMAIL_PASSWORD",
	"email.secure":        "EMAIL_SECURE",
	"email.starttls":      "EMAIL_STARTTLS",
	"email.from":          "EMAIL_FROM",
	"email.reply_to":      "EMAIL_REPLY_TO",
	"email.api_key":       "EMAIL_API_KEY",
	"email.account_token": "EMAIL_ACCOUNT_TOKEN",
	"email.domain":        "EMAIL_DOMAIN",
	"email.endpoint":      "EMAIL_ENDPOINT",

	"queue.max_attempts":     "EMAIL_MAX_ATTEMPTS",
	"queue.retry_delay_ms":   "EMAIL_RETRY_DELAY_MS",
	"queue.broker":           "QUEUE_BROKER",
	"queue.name":             "QUEUE_NAME",
	"queue.dead_letter_name": "QUEUE_DEAD_LETTER_NAME",
	"queue.concurrency":      "QUEUE_CONCURRENCY",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"sqs.queue_url": "SQS_QUEUE_URL",
	"sqs.dlq_url":   "SQS_DLQ_URL",
	"sqs.region":    "SQS_REGION",

	"templates.dirs": "TEMPLATE_DIRS",

	"dkim.selector":    "DKIM_SELECTOR",
	"dkim.domain":      "DKIM_DOMAIN",
	"dkim.key_path":    "DKIM_KEY_PATH",
	"dkim.private_key": "DKIM_PRIVATE_KEY",

	"output.type":        "EMAIL_OUTPUT_TYPE",
	"output.path":        "EMAIL_OUTPUT_PATH",
	"output.s3_bucket":   "EMAIL_OUTPUT_S3_BUCKET",
	"output.s3_prefix":   "EMAIL_OUTPUT_S3_PREFIX",
	"output.s3_endpoint": "EMAIL_OUTPUT_S3_ENDPOINT",
	"output.s3_region":   "EMAIL_OUTPUT_S3_REGION",

	"api.host":               "API_HOST",
	"api.port":               "API_PORT",
	"auth.jwt_secret":        "JWT_SECRET",
	"auth.issuer":            "JWT_ISSUER",
	"auth.rate_limit_hourly": "RATE_LIMIT_HOURLY",
	"logging.level":          "LOG_LEVEL",
	"logging.output":         "LOG_OUTPUT",
	"logging.file_path":      "LOG_FILE_PATH",
	"frontend_url":           "FRONTEND_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("email.enabled", true)
	v.SetDefault("email.transport", "smtp")
	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.starttls", "opportunistic")
	v.SetDefault("email.from", "noreply@cermont.com")
	v.SetDefault("email.timeout", 30*time.Second)
	// Registered so env-only values are visible to Unmarshal.
	for _, key := range []string{
		"email.user", "email.password", "email.secure", "email.reply_to",
		"email.api_key", "email.account_token", "email.domain", "email.endpoint",
		"redis.password", "sqs.queue_url", "sqs.dlq_url",
		"dkim.selector", "dkim.domain", "dkim.key_path", "dkim.private_key",
		"output.s3_bucket", "output.s3_prefix", "output.s3_endpoint",
		"auth.jwt_secret", "logging.file_path",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("queue.max_attempts", DefaultMaxAttempts)
	v.SetDefault("queue.retry_delay_ms", DefaultRetryDelay.Milliseconds())
	v.SetDefault("queue.broker", "redis")
	v.SetDefault("queue.name", "emails")
	v.SetDefault("queue.dead_letter_name", "emails-dead-letter")
	v.SetDefault("queue.delayed_name", "emails:delayed")
	v.SetDefault("queue.group", "email-workers")
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_backoff", 10*time.Minute)
	v.SetDefault("queue.block_timeout", 5*time.Second)
	v.SetDefault("queue.process_timeout", 30*time.Second)
	v.SetDefault("queue.shutdown_timeout", 30*time.Second)
	v.SetDefault("queue.connect_timeout", 2*time.Second)
	v.SetDefault("queue.reclaim_idle", time.Minute)
	v.SetDefault("queue.poll_interval", 250*time.Millisecond)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqs.region", "us-east-1")
	v.SetDefault("sqs.wait_time", 20)
	v.SetDefault("sqs.visibility_timeout", 30)

	v.SetDefault("templates.dirs", []string{"dist/templates", "templates"})

	v.SetDefault("output.type", "local")
	v.SetDefault("output.path", "./mail_output")
	v.SetDefault("output.s3_region", "us-east-1")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8085)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	v.SetDefault("auth.issuer", "cermont")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.rate_limit_hourly", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("frontend_url", "http://localhost:3000")
}

// Load reads config.yaml from configPath when present, then applies
// environment overrides. A .env file in the working directory is loaded
// first without overriding variables already set in the process.
// A missing config file is not an error; every key has a default.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Queue.MaxAttempts = parseMaxAttempts(v.GetString("queue.max_attempts"))
	cfg.Queue.RetryDelay = parseRetryDelay(v.GetString("queue.retry_delay_ms"))
	cfg.Templates.Dirs = splitDirs(cfg.Templates.Dirs)

	return &cfg, nil
}

// parseMaxAttempts falls back to the default for non-numeric or
// non-positive values.
func parseMaxAttempts(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}

// parseRetryDelay reads milliseconds; non-numeric, negative or
// unrepresentable values fall back to the default. Zero is allowed.
func parseRetryDelay(raw string) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 || n > math.MaxInt64/int64(time.Millisecond) {
		return DefaultRetryDelay
	}
	return time.Duration(n) * time.Millisecond
}

func splitDirs(in []string) []string {
	var out []string
	for _, d := range in {
		for _, part := range strings.Split(d, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
