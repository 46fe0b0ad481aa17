package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "AREWEFAST"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultRepo is the upstream repository that is benchmarked.
	DefaultRepo = "https://github.com/flix/flix.git"

	// DefaultSourcePath is where the repository is checked out.
	DefaultSourcePath = "./flix"

	// DefaultDatabaseName is the database holding all metric tables.
	DefaultDatabaseName = "flix"

	// DefaultDashboardUID is the Grafana dashboard receiving annotations.
	DefaultDashboardUID = "agdciz4k"

	// DefaultPanelID is the Grafana panel receiving annotations.
	DefaultPanelID = 6

	// DefaultAnnotationPort is the Grafana HTTP port.
	DefaultAnnotationPort = 3000

	// DefaultAnnotationPath is the Grafana annotation endpoint.
	DefaultAnnotationPath = "/api/annotations"

	// DefaultCommitWindow bounds how far back commits are ingested.
	DefaultCommitWindow = "1 month ago"
)

// Config is the root configuration for arewefast.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Toolchain   ToolchainConfig   `yaml:"toolchain" mapstructure:"toolchain"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Annotations AnnotationsConfig `yaml:"annotations" mapstructure:"annotations"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Archive     ArchiveConfig     `yaml:"archive" mapstructure:"archive"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig points at the repository that is built and benchmarked.
type SourceConfig struct {
	Repo string `yaml:"repo" mapstructure:"repo"`
	Path string `yaml:"path" mapstructure:"path"`
}

// ToolchainConfig names the external programs driven by the workflows.
// Relative JarPath and BenchmarkList are resolved against the source path.
type ToolchainConfig struct {
	Gradle        string `yaml:"gradle" mapstructure:"gradle"`
	Java          string `yaml:"java" mapstructure:"java"`
	JarPath       string `yaml:"jar_path" mapstructure:"jar_path"`
	BenchmarkList string `yaml:"benchmark_list" mapstructure:"benchmark_list"`
	CommitWindow  string `yaml:"commit_window" mapstructure:"commit_window"`
}

// IngestConfig controls how parsed records are written.
type IngestConfig struct {
	// SkipExistingCommits inserts only commits whose sha is not stored yet.
	// When false every ingested commit is inserted, duplicates included.
	SkipExistingCommits bool `yaml:"skip_existing_commits" mapstructure:"skip_existing_commits"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver      string       `yaml:"driver" mapstructure:"driver"`
	AutoMigrate bool         `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	Host        string       `yaml:"host" mapstructure:"host"`
	Port        int          `yaml:"port,omitempty" mapstructure:"port"`
	User        string       `yaml:"user" mapstructure:"user"`
	Password    string       `yaml:"password" mapstructure:"password"`
	Name        string       `yaml:"name" mapstructure:"name"`
	SSLMode     string       `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
	SQLite      SQLiteConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnnotationsConfig configures the Grafana annotation publisher.
type AnnotationsConfig struct {
	Scheme            string        `yaml:"scheme" mapstructure:"scheme"`
	Host              string        `yaml:"host" mapstructure:"host"`
	Port              int           `yaml:"port" mapstructure:"port"`
	Path              string        `yaml:"path" mapstructure:"path"`
	Token             string        `yaml:"token" mapstructure:"token"`
	DashboardUID      string        `yaml:"dashboard_uid" mapstructure:"dashboard_uid"`
	PanelID           int           `yaml:"panel_id" mapstructure:"panel_id"`
	Concurrency       int           `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerMinute int           `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Endpoint returns the full annotation API URL.
func (a *AnnotationsConfig) Endpoint() string {
	return fmt.Sprintf("%s://%s:%d%s", a.Scheme, a.Host, a.Port, a.Path)
}

// RetryConfig holds one retry policy per class of external dependency.
type RetryConfig struct {
	Process  retry.Policy `yaml:"process" mapstructure:"process"`
	Database retry.Policy `yaml:"database" mapstructure:"database"`
	HTTP     retry.Policy `yaml:"http" mapstructure:"http"`
}

// ArchiveConfig configures where raw benchmark output is archived.
type ArchiveConfig struct {
	S3 S3ArchiveConfig `yaml:"s3" mapstructure:"s3"`
}

// S3ArchiveConfig contains S3 settings for raw output archiving.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}

// Args holds the positional command line arguments.
type Args struct {
	Host     string
	User     string
	Password string
	Command  string
	Token    string
}

// defaults lists every known key. Viper only binds environment variables
// for keys it knows about, so empty strings are registered too.
var defaults = map[string]any{
	"global.log_level": DefaultLogLevel,

	"source.repo": DefaultRepo,
	"source.path": DefaultSourcePath,

	"toolchain.gradle":         "./gradlew",
	"toolchain.java":           "java",
	"toolchain.jar_path":       "build/libs/flix.jar",
	"toolchain.benchmark_list": "main/src/resources/benchmark/BenchmarkList.flix",
	"toolchain.commit_window":  DefaultCommitWindow,

	"ingest.skip_existing_commits": false,

	"database.driver":       "mysql",
	"database.auto_migrate": true,
	"database.host":         "",
	"database.port":         0,
	"database.user":         "",
	"database.password":     "",
	"database.name":         DefaultDatabaseName,
	"database.ssl_mode":     "disable",
	"database.sqlite.path":  "arewefast.db",

	"annotations.scheme":              "http",
	"annotations.host":                "",
	"annotations.port":                DefaultAnnotationPort,
	"annotations.path":                DefaultAnnotationPath,
	"annotations.token":               "",
	"annotations.dashboard_uid":       DefaultDashboardUID,
	"annotations.panel_id":            DefaultPanelID,
	"annotations.concurrency":         4,
	"annotations.requests_per_minute": 0,
	"annotations.timeout":             "10s",

	"retry.process.max_attempts":      1,
	"retry.process.initial_interval":  "1s",
	"retry.process.max_interval":      "30s",
	"retry.database.max_attempts":     1,
	"retry.database.initial_interval": "500ms",
	"retry.database.max_interval":     "10s",
	"retry.http.max_attempts":         1,
	"retry.http.initial_interval":     "500ms",
	"retry.http.max_interval":         "10s",

	"archive.s3.enabled":           false,
	"archive.s3.endpoint_url":      "",
	"archive.s3.region":            "",
	"archive.s3.bucket":            "",
	"archive.s3.access_key_id":     "",
	"archive.s3.secret_access_key": "",
	"archive.s3.force_path_style":  false,
	"archive.s3.prefix":            "",
	"archive.s3.storage_class":     "",
}

// Load builds the configuration from defaults, the optional file at path
// and AREWEFAST_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// ApplyArgs merges the positional arguments into the configuration. The
// host serves both the database and, unless configured, the dashboard.
func (c *Config) ApplyArgs(args Args) {
	if args.Host != "" {
		c.Database.Host = args.Host

		if c.Annotations.Host == "" {
			c.Annotations.Host = args.Host
		}
	}

	if args.User != "" {
		c.Database.User = args.User
	}

	if args.Password != "" {
		c.Database.Password = args.Password
	}

	if args.Token != "" {
		c.Annotations.Token = args.Token
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Source.Repo == "" {
		return errors.New("source.repo is required")
	}

	if c.Source.Path == "" {
		return errors.New("source.path is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for driver %q", c.Database.Driver)
		}

		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for driver %q", c.Database.Driver)
		}

		if c.Database.Name == "" {
			return errors.New("database.name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required for driver \"sqlite\"")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Annotations.Concurrency < 1 {
		return fmt.Errorf("annotations.concurrency must be at least 1, got %d", c.Annotations.Concurrency)
	}

	if c.Annotations.RequestsPerMinute < 0 {
		return errors.New("annotations.requests_per_minute must not be negative")
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return errors.New("archive.s3.bucket is required when archiving is enabled")
	}

	return nil
}

// JarPath returns the compiled artifact path.
func (c *Config) JarPath() string {
	return c.resolve(c.Toolchain.JarPath)
}

// BenchmarkListPath returns the benchmark list file path.
func (c *Config) BenchmarkListPath() string {
	return c.resolve(c.Toolchain.BenchmarkList)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.Source.Path, p)
}

// Redacted renders the configuration as YAML with credentials masked.
func (c *Config) Redacted() (string, error) {
	cp := *c

	for _, secret := range []*string{
		&cp.Database.Password,
		&cp.Annotations.Token,
		&cp.Archive.S3.SecretAccessKey,
	} {
		if *secret != "" {
			*secret = "REDACTED"
		}
	}

	out, err := yaml.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("marshalling config: %w", err)
	}

	return string(out), nil
}
