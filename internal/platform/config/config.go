package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"kycops/pkg/platform/strings"
)

// EnvConfigFile names an optional YAML file applied on top of the defaults.
// Environment variables win over the file.
const EnvConfigFile = "KYCOPS_CONFIG"

// Config is the full process configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Registry   Registry   `yaml:"registry"`
	Redis      Redis      `yaml:"redis"`
	Postgres   Postgres   `yaml:"postgres"`
	Kafka      Kafka      `yaml:"kafka"`
	Relay      Relay      `yaml:"relay"`
	Mail       Mail       `yaml:"mail"`
	Alerts     Alerts     `yaml:"alerts"`
	Thresholds Thresholds `yaml:"thresholds"`
	Schedule   Schedule   `yaml:"schedule"`
	Monitoring Monitoring `yaml:"monitoring"`
	Documents  Documents  `yaml:"documents"`
	Auth       Auth       `yaml:"auth"`
	Portal     Portal     `yaml:"portal"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // json | text
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	Tracing         bool          `yaml:"tracing"`
	// DisableRateLimits turns off the per-IP request limits (demo mode).
	DisableRateLimits bool `yaml:"disable_rate_limits"`
}

// Registry selects the record store backend: memory, postgres or redis.
type Registry struct {
	Backend    string        `yaml:"backend"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Postgres struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type Kafka struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	ProduceTimeout    time.Duration `yaml:"produce_timeout"`
}

// Relay configures the downstream automation webhook.
type Relay struct {
	WebhookURL string        `yaml:"webhook_url"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Mail configures outbound SMTP. An empty host logs messages instead.
type Mail struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
	Admins   []string      `yaml:"admins"`
}

// Alerts configures alert channels. A channel with empty settings is not
// registered.
type Alerts struct {
	EmailRecipients []string      `yaml:"email_recipients"`
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	TelegramToken   string        `yaml:"telegram_token"`
	TelegramChatID  string        `yaml:"telegram_chat_id"`
	TelegramAPIURL  string        `yaml:"telegram_api_url"`
	ChannelTimeout  time.Duration `yaml:"channel_timeout"`
}

type Thresholds struct {
	ErrorRate      float64       `yaml:"error_rate"`
	UploadFailRate float64       `yaml:"upload_fail_rate"`
	ResponseTime   time.Duration `yaml:"response_time"`
	DiskUsage      float64       `yaml:"disk_usage"`
	DiskPath       string        `yaml:"disk_path"`
}

type Schedule struct {
	CheckInterval     time.Duration `yaml:"check_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DailyAt           string        `yaml:"daily_at"` // HH:MM
	Timezone          string        `yaml:"timezone"`
}

type Monitoring struct {
	SampleRetention   int `yaml:"sample_retention"`
	NotificationQueue int `yaml:"notification_queue"`
	QueueWorkers      int `yaml:"queue_workers"`
}

// Documents selects where uploads are stored: local or gcs.
type Documents struct {
	Backend         string `yaml:"backend"`
	Dir             string `yaml:"dir"`
	BaseURL         string `yaml:"base_url"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Auth configures admin bearer token verification.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// Portal holds the links rendered into applicant and admin messages.
type Portal struct {
	AgentPortalURL    string `yaml:"agent_portal_url"`
	AdminDashboardURL string `yaml:"admin_dashboard_url"`
	SupportEmail      string `yaml:"support_email"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":3000",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Registry: Registry{
			Backend:    "memory",
			RateLimit:  3,
			RateWindow: time.Hour,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: Postgres{MaxOpenConns: 10, MaxIdleConns: 5},
		Kafka: Kafka{
			Topic:             "kyc.applications",
			Partitions:        1,
			ReplicationFactor: 1,
			ProduceTimeout:    10 * time.Second,
		},
		Relay: Relay{Timeout: 10 * time.Second},
		Mail:  Mail{Port: 587, From: "noreply@morningsidezw.com", Timeout: 15 * time.Second},
		Alerts: Alerts{
			TelegramAPIURL: "https://api.telegram.org",
			ChannelTimeout: 10 * time.Second,
		},
		Thresholds: Thresholds{
			ErrorRate:      10,
			UploadFailRate: 20,
			ResponseTime:   5 * time.Second,
			DiskUsage:      90,
			DiskPath:       "/",
		},
		Schedule: Schedule{
			CheckInterval:     5 * time.Minute,
			HeartbeatInterval: time.Minute,
			DailyAt:           "09:00",
			Timezone:          "UTC",
		},
		Monitoring: Monitoring{
			SampleRetention:   1000,
			NotificationQueue: 256,
			QueueWorkers:      4,
		},
		Documents: Documents{
			Backend: "local",
			Dir:     "uploads",
			BaseURL: "/files",
		},
		Auth: Auth{
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "kycops",
		},
		Portal: Portal{
			AgentPortalURL:    "https://agents.morningsidezw.com",
			AdminDashboardURL: "https://admin.morningsidezw.com",
			SupportEmail:      "support@morningsidezw.com",
		},
	}
}

// FromEnv builds the configuration from defaults, the optional YAML file and
// environment variables, in that order.
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigFile), os.LookupEnv)
}

// Load applies the YAML file at path (when non-empty) and then lookup-based
// overrides to the defaults.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	e := envReader{lookup: lookup}
	e.apply(&cfg)
	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	switch c.Registry.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("registry backend postgres requires DATABASE_URL")
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("registry backend redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	switch c.Documents.Backend {
	case "local":
	case "gcs":
		if c.Documents.Bucket == "" {
			return fmt.Errorf("documents backend gcs requires GCS_BUCKET")
		}
	default:
		return fmt.Errorf("unknown documents backend %q", c.Documents.Backend)
	}
	if c.Registry.RateLimit <= 0 || c.Registry.RateWindow <= 0 {
		return fmt.Errorf("submission rate limit must be positive")
	}
	if c.Schedule.CheckInterval <= 0 || c.Schedule.HeartbeatInterval <= 0 {
		return fmt.Errorf("schedule intervals must be positive")
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) apply(c *Config) {
	e.str("KYCOPS_ADDR", &c.Server.Addr)
	e.str("LOG_LEVEL", &c.Server.LogLevel)
	e.str("LOG_FORMAT", &c.Server.LogFormat)
	e.list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	e.boolean("TRACING_ENABLED", &c.Server.Tracing)
	e.boolean("DISABLE_RATE_LIMITS", &c.Server.DisableRateLimits)

	e.str("REGISTRY_BACKEND", &c.Registry.Backend)
	e.integer("SUBMISSION_RATE_LIMIT", &c.Registry.RateLimit)
	e.duration("SUBMISSION_RATE_WINDOW", &c.Registry.RateWindow)

	e.str("REDIS_URL", &c.Redis.URL)
	e.str("DATABASE_URL", &c.Postgres.DSN)

	e.list("KAFKA_BROKERS", &c.Kafka.Brokers)
	e.str("KAFKA_TOPIC", &c.Kafka.Topic)

	e.str("N8N_WEBHOOK_URL", &c.Relay.WebhookURL)
	e.str("N8N_WEBHOOK_SECRET", &c.Relay.Secret)

	e.str("SMTP_HOST", &c.Mail.Host)
	e.integer("SMTP_PORT", &c.Mail.Port)
	e.str("SMTP_USER", &c.Mail.Username)
	e.str("SMTP_PASSWORD", &c.Mail.Password)
	e.str("EMAIL_FROM", &c.Mail.From)
	e.addresses("ADMIN_EMAILS", &c.Mail.Admins)

	e.addresses("ALERT_EMAILS", &c.Alerts.EmailRecipients)
	e.str("SLACK_WEBHOOK_URL", &c.Alerts.SlackWebhookURL)
	e.str("TELEGRAM_BOT_TOKEN", &c.Alerts.TelegramToken)
	e.str("TELEGRAM_CHAT_ID", &c.Alerts.TelegramChatID)

	e.float("ERROR_RATE_THRESHOLD", &c.Thresholds.ErrorRate)
	e.float("UPLOAD_FAIL_RATE_THRESHOLD", &c.Thresholds.UploadFailRate)
	e.duration("RESPONSE_TIME_THRESHOLD", &c.Thresholds.ResponseTime)
	e.float("DISK_USAGE_THRESHOLD", &c.Thresholds.DiskUsage)
	e.str("DISK_PATH", &c.Thresholds.DiskPath)

	e.duration("CHECK_INTERVAL", &c.Schedule.CheckInterval)
	e.duration("HEARTBEAT_INTERVAL", &c.Schedule.HeartbeatInterval)
	e.str("DAILY_REPORT_AT", &c.Schedule.DailyAt)
	e.str("SCHEDULE_TIMEZONE", &c.Schedule.Timezone)

	e.integer("SAMPLE_RETENTION", &c.Monitoring.SampleRetention)

	e.str("DOCUMENTS_BACKEND", &c.Documents.Backend)
	e.str("UPLOAD_DIR", &c.Documents.Dir)
	e.str("GCS_BUCKET", &c.Documents.Bucket)
	e.str("GOOGLE_APPLICATION_CREDENTIALS", &c.Documents.CredentialsFile)

	e.str("JWT_SECRET", &c.Auth.JWTSigningKey)

	e.str("AGENT_PORTAL_URL", &c.Portal.AgentPortalURL)
	e.str("ADMIN_DASHBOARD_URL", &c.Portal.AdminDashboardURL)
	e.str("SUPPORT_EMAIL", &c.Portal.SupportEmail)
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = strings.SplitList(v)
	}
}

func (e *envReader) addresses(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = strings.SplitAddresses(v)
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
