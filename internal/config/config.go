// Package config loads the service configuration with viper. Defaults are
// overridden by an optional config.yaml and then by DOCACQ_* environment
// variables; secrets are read from the environment only.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PostgreSQL sslmode values. Disable is for local development only.
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// Storage backends.
const (
	StorageBackendLocal = "local"
	StorageBackendGCS   = "gcs"
)

// Retry scheduler modes. "cron" runs the sweep inside the API server,
// "temporal" runs it as a long-lived workflow on the worker.
const (
	SchedulerCron     = "cron"
	SchedulerTemporal = "temporal"
	SchedulerNone     = "none"
)

// envPrefix is the prefix for every environment variable read by Load.
const envPrefix = "DOCACQ"

// Config is the whole service configuration. Every binary loads all of it
// and uses the sections it needs.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Sources     SourcesConfig     `mapstructure:"sources"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	HTTPPort    int           `mapstructure:"http_port"`
	GRPCPort    int           `mapstructure:"grpc_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout must cover the acquisition ceiling, since POST /documents
	// answers only once the acquisition has finished.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes the PostgreSQL pool. Password comes from
// DOCACQ_DATABASE_PASSWORD in production.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// SSLMode is one of the SSLMode constants.
	SSLMode string `mapstructure:"ssl_mode"`

	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`

	// MigrationPath is a directory of migration files. Empty uses the set
	// embedded in the binary.
	MigrationPath    string `mapstructure:"migration_path"`
	MigrationAutoRun bool   `mapstructure:"migration_auto_run"`

	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	// TaskQueue carries the acquisition workflows and activities.
	TaskQueue string            `mapstructure:"task_queue"`
	TLS       TemporalTLSConfig `mapstructure:"tls"`

	// Worker sizing. MaxConcurrentActivities bounds acquisitions in flight on
	// one worker.
	MaxConcurrentActivities int           `mapstructure:"max_concurrent_activities"`
	ActivityPollers         int           `mapstructure:"activity_pollers"`
	WorkerStopTimeout       time.Duration `mapstructure:"worker_stop_timeout"`
}

// TemporalTLSConfig points at PEM files for the Temporal connection, e.g.
// for Temporal Cloud. A CA alone is allowed.
type TemporalTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ServerName string `mapstructure:"server_name"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
	// Output is stdout, stderr or a file path.
	Output     string `mapstructure:"output"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is otlp or stdout. Only otlp needs an Endpoint (host:port).
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// KafkaConfig covers both the outcome publisher and the request listener.
type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers"`
	EventsTopic   string        `mapstructure:"events_topic"`
	RequestsTopic string        `mapstructure:"requests_topic"`
	GroupID       string        `mapstructure:"group_id"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
}

// RedisConfig backs the per-(project, DOI) lock. When disabled the lock is
// in-process, which is only correct for a single replica.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"-"`
	DB       int    `mapstructure:"db"`
	// LockTTL bounds how long a crashed holder can block a DOI.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalRoot string `mapstructure:"local_root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	// GCSPrefix is prepended to every object name.
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

type AcquisitionConfig struct {
	// InterAttemptDelay is slept between two sources for the same DOI.
	InterAttemptDelay    time.Duration `mapstructure:"inter_attempt_delay"`
	UsePublisherPatterns bool          `mapstructure:"use_publisher_patterns"`
	// PatternMinSuccesses is how many successes a publisher pattern needs
	// before it reorders sources.
	PatternMinSuccesses  int64  `mapstructure:"pattern_min_successes"`
	MaxDocumentBytes     int64  `mapstructure:"max_document_bytes"`
	UserAgent            string `mapstructure:"user_agent"`
	HistoryRetentionDays int    `mapstructure:"history_retention_days"`
}

type RetryConfig struct {
	// MaxRetries bounds the retries of one DOI before it is permanently failed.
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	// Jitter is the fraction of the computed delay added at random, in [0, 1).
	Jitter float64 `mapstructure:"jitter"`

	SweepBatchSize   int `mapstructure:"sweep_batch_size"`
	SweepConcurrency int `mapstructure:"sweep_concurrency"`
	// LeaseDuration hides a claimed entry from other sweepers.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`

	// Scheduler is one of the Scheduler constants. CronSpec applies to cron,
	// SweepInterval to temporal.
	Scheduler     string        `mapstructure:"scheduler"`
	CronSpec      string        `mapstructure:"cron_spec"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SourcesConfig has one block per adapter. ContactEmail is read from
// DOCACQ_SOURCES_CONTACT_EMAIL only; Unpaywall stays disabled without it.
type SourcesConfig struct {
	ContactEmail    string       `mapstructure:"-"`
	Unpaywall       SourceConfig `mapstructure:"unpaywall"`
	OpenAlex        SourceConfig `mapstructure:"openalex"`
	SemanticScholar SourceConfig `mapstructure:"semantic_scholar"`
	EuropePMC       SourceConfig `mapstructure:"europepmc"`
	ArXiv           SourceConfig `mapstructure:"arxiv"`
	BioRxiv         SourceConfig `mapstructure:"biorxiv"`
	Publisher       SourceConfig `mapstructure:"publisher"`
}

// SourceConfig seeds one row of the sources table. Enabled and Priority are
// bootstrap values only; administrator changes in the database win after
// the first start.
type SourceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// APIKey comes from the environment only, e.g.
	// DOCACQ_SOURCES_SEMANTIC_SCHOLAR_API_KEY.
	APIKey  string `mapstructure:"-"`
	BaseURL string `mapstructure:"base_url"`
	// ContentURL is the secondary host documents are fetched from, if any.
	ContentURL string        `mapstructure:"content_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// RateLimit is in requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Priority orders sources with no history; lower is tried first.
	Priority int `mapstructure:"priority"`
}

// DSN renders the pool settings as a postgres:// URL for pgxpool.
func (c *DatabaseConfig) DSN() string {
	q := url.Values{"sslmode": {c.SSLMode}}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		q.Set("statement_cache_capacity", strconv.Itoa(c.StatementCacheCapacity))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c *ServerConfig) HTTPAddress() string    { return c.addr(c.HTTPPort) }
func (c *ServerConfig) GRPCAddress() string    { return c.addr(c.GRPCPort) }
func (c *ServerConfig) MetricsAddress() string { return c.addr(c.MetricsPort) }

func (c *ServerConfig) addr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Load reads defaults, then config.yaml if one exists, then DOCACQ_*
// environment variables, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for name, src := range sourceDefaults {
		src.apply(v, "sources."+name)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range []string{".", "./config", "/etc/document-acquisition-service"} {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.loadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadSecrets fills the fields tagged mapstructure:"-" so they can never come
// from a config file.
func (c *Config) loadSecrets() {
	env := func(suffix string) string { return os.Getenv(envPrefix + "_" + suffix) }

	c.Redis.Password = env("REDIS_PASSWORD")
	c.Sources.ContactEmail = env("SOURCES_CONTACT_EMAIL")
	c.Sources.Unpaywall.APIKey = env("SOURCES_UNPAYWALL_API_KEY")
	c.Sources.OpenAlex.APIKey = env("SOURCES_OPENALEX_API_KEY")
	c.Sources.SemanticScholar.APIKey = env("SOURCES_SEMANTIC_SCHOLAR_API_KEY")
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.http_port":        8080,
	"server.grpc_port":        9090,
	"server.metrics_port":     9091,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "5m",
	"server.shutdown_timeout": "30s",

	"database.host":                     "localhost",
	"database.port":                     5432,
	"database.user":                     "docacq",
	"database.password":                 "",
	"database.name":                     "document_acquisition",
	"database.ssl_mode":                 SSLModeRequire,
	"database.max_conns":                25,
	"database.min_conns":                2,
	"database.max_conn_lifetime":        "1h",
	"database.max_conn_idle_time":       "30m",
	"database.health_check_period":      "30s",
	"database.connect_timeout":          "10s",
	"database.migration_path":           "",
	"database.migration_auto_run":       false,
	"database.statement_cache_capacity": 512,

	"temporal.host_port":                 "localhost:7233",
	"temporal.namespace":                 "document-acquisition",
	"temporal.task_queue":                "document-acquisition-tasks",
	"temporal.max_concurrent_activities": 20,
	"temporal.activity_pollers":          4,
	"temporal.worker_stop_timeout":       "30s",
	"temporal.tls.enabled":               false,
	"temporal.tls.cert_file":             "",
	"temporal.tls.key_file":              "",
	"temporal.tls.ca_file":               "",
	"temporal.tls.server_name":           "",

	"logging.level":       "info",
	"logging.format":      "json",
	"logging.output":      "stdout",
	"logging.add_source":  false,
	"logging.time_format": time.RFC3339,

	"metrics.enabled": true,
	"metrics.path":    "/metrics",

	"tracing.enabled":      false,
	"tracing.exporter":     "otlp",
	"tracing.endpoint":     "",
	"tracing.insecure":     false,
	"tracing.service_name": "document-acquisition-service",
	"tracing.sample_rate":  0.1,

	"kafka.enabled":        false,
	"kafka.brokers":        []string{"localhost:9092"},
	"kafka.events_topic":   "events.document_acquisition.outcomes",
	"kafka.requests_topic": "commands.document_acquisition.acquire",
	"kafka.group_id":       "document-acquisition-worker",
	"kafka.batch_size":     100,
	"kafka.batch_timeout":  "10ms",

	"redis.enabled":  false,
	"redis.addr":     "localhost:6379",
	"redis.db":       0,
	"redis.lock_ttl": "10m",

	"storage.backend":    StorageBackendLocal,
	"storage.local_root": "./data/documents",
	"storage.gcs_bucket": "",
	"storage.gcs_prefix": "documents",

	"acquisition.inter_attempt_delay":    "1s",
	"acquisition.use_publisher_patterns": true,
	"acquisition.pattern_min_successes":  1,
	"acquisition.max_document_bytes":     100 << 20,
	"acquisition.user_agent":             "",
	"acquisition.history_retention_days": 180,

	"retry.max_retries":       5,
	"retry.base_delay":        "15m",
	"retry.max_delay":         "24h",
	"retry.jitter":            0.2,
	"retry.sweep_batch_size":  50,
	"retry.sweep_concurrency": 4,
	"retry.lease_duration":    "15m",
	"retry.scheduler":         SchedulerCron,
	"retry.cron_spec":         "@every 1m",
	"retry.sweep_interval":    "1m",
}

type sourceDefault struct {
	baseURL    string
	contentURL string
	timeout    string
	rate       float64
	priority   int
}

func (d sourceDefault) apply(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".enabled", true)
	v.SetDefault(prefix+".base_url", d.baseURL)
	v.SetDefault(prefix+".content_url", d.contentURL)
	v.SetDefault(prefix+".timeout", d.timeout)
	v.SetDefault(prefix+".rate_limit", d.rate)
	v.SetDefault(prefix+".priority", d.priority)
}

// sourceDefaults keys match the SourcesConfig mapstructure tags. Rates follow
// each provider's published guidance (arXiv asks for at most 3 per second).
var sourceDefaults = map[string]sourceDefault{
	"unpaywall":        {baseURL: "https://api.unpaywall.org", timeout: "30s", rate: 10, priority: 10},
	"openalex":         {baseURL: "https://api.openalex.org", timeout: "30s", rate: 10, priority: 20},
	"semantic_scholar": {baseURL: "https://api.semanticscholar.org/graph/v1", timeout: "30s", rate: 1, priority: 30},
	"europepmc": {
		baseURL:    "https://www.ebi.ac.uk/europepmc/webservices/rest",
		contentURL: "https://europepmc.org/articles",
		timeout:    "25s", rate: 5, priority: 40,
	},
	"arxiv": {baseURL: "https://arxiv.org", timeout: "30s", rate: 3, priority: 50},
	"biorxiv": {
		baseURL:    "https://api.biorxiv.org",
		contentURL: "https://www.biorxiv.org",
		timeout:    "30s", rate: 2, priority: 60,
	},
	"publisher": {baseURL: "https://doi.org", timeout: "45s", rate: 2, priority: 70},
}

var logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}

// Validate reports every problem it finds, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	port := func(name string, p int) {
		if p <= 0 || p > 65535 {
			fail("invalid %s port: %d", name, p)
		}
	}

	port("HTTP", c.Server.HTTPPort)
	port("gRPC", c.Server.GRPCPort)
	port("metrics", c.Server.MetricsPort)

	db := c.Database
	if db.Host == "" {
		fail("database host is required")
	}
	port("database", db.Port)
	if db.Name == "" {
		fail("database name is required")
	}
	if db.MaxConns < db.MinConns {
		fail("max_conns (%d) must be >= min_conns (%d)", db.MaxConns, db.MinConns)
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		fail("invalid log level: %s", c.Logging.Level)
	}
	if t := c.Tracing; t.Enabled && t.Exporter != "stdout" && t.Endpoint == "" {
		fail("tracing endpoint is required when the otlp exporter is enabled")
	}
	if r := c.Tracing.SampleRate; r < 0 || r > 1 {
		fail("tracing sample rate must be between 0 and 1")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		fail("kafka brokers are required when kafka is enabled")
	}
	if t := c.Temporal.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		fail("temporal tls cert_file and key_file must be set together")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		fail("redis addr is required when redis is enabled")
	}

	switch st := c.Storage; st.Backend {
	case StorageBackendLocal:
		if st.LocalRoot == "" {
			fail("storage local_root is required for the local backend")
		}
	case StorageBackendGCS:
		if st.GCSBucket == "" {
			fail("storage gcs_bucket is required for the gcs backend")
		}
	default:
		fail("invalid storage backend: %s", st.Backend)
	}

	if c.Acquisition.InterAttemptDelay < 0 {
		fail("acquisition inter_attempt_delay must not be negative")
	}
	if c.Acquisition.PatternMinSuccesses < 1 {
		fail("acquisition pattern_min_successes must be >= 1")
	}

	r := c.Retry
	if r.MaxRetries < 1 {
		fail("retry max_retries must be >= 1")
	}
	if r.BaseDelay <= 0 {
		fail("retry base_delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		fail("retry max_delay (%s) must be >= base_delay (%s)", r.MaxDelay, r.BaseDelay)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		fail("retry jitter must be in [0, 1)")
	}
	if !slices.Contains([]string{SchedulerCron, SchedulerTemporal, SchedulerNone}, r.Scheduler) {
		fail("invalid retry scheduler: %s", r.Scheduler)
	}

	return errors.Join(errs...)
}
