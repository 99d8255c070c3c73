// Package config loads ringscan settings from an optional config file,
// RINGSCAN_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g.
// RINGSCAN_CASSANDRA_HOSTS=10.0.0.1,10.0.0.2.
const EnvPrefix = "RINGSCAN"

// Config is the complete CLI configuration.
type Config struct {
	Cassandra Cassandra `mapstructure:"cassandra"`
	Read      Read      `mapstructure:"read"`
	Export    Export    `mapstructure:"export"`
	S3        S3        `mapstructure:"s3"`
	Log       Log       `mapstructure:"log"`
	Metrics   Metrics   `mapstructure:"metrics"`

	// Workers bounds how many work units read concurrently.
	Workers int `mapstructure:"workers"`
}

// Cassandra holds cluster connection settings.
type Cassandra struct {
	Hosts          []string      `mapstructure:"hosts"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Consistency    string        `mapstructure:"consistency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ProtoVersion   int           `mapstructure:"proto_version"`
	PageSize       int           `mapstructure:"page_size"`
	Partitioner    string        `mapstructure:"partitioner"`
	CAPath         string        `mapstructure:"ca_path"`
}

// Read selects what to scan.
type Read struct {
	Keyspace string `mapstructure:"keyspace"`
	Table    string `mapstructure:"table"`
	Query    string `mapstructure:"query"`

	// RangesFile is a JSON array of {"start","end"} ranges. Empty reads the
	// whole table.
	RangesFile string `mapstructure:"ranges_file"`
}

// Export selects where and how records are written. Exactly one of Dir and
// S3.Bucket must be set.
type Export struct {
	Dir        string `mapstructure:"dir"`
	Prefix     string `mapstructure:"prefix"`
	Codec      string `mapstructure:"codec"`
	Compressor string `mapstructure:"compressor"`
	MaxRecords int    `mapstructure:"max_records"`

	// Columns is the Parquet schema as "name:type" entries; a trailing "?"
	// marks the column nullable, e.g. "score:float64?".
	Columns []string `mapstructure:"columns"`
}

// S3 configures the object store target.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Log configures the process logger.
type Log struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"cassandra.hosts":           []string{"127.0.0.1"},
	"cassandra.port":            9042,
	"cassandra.username":        "",
	"cassandra.password":        "",
	"cassandra.consistency":     "LOCAL_ONE",
	"cassandra.timeout":         10 * time.Second,
	"cassandra.connect_timeout": 5 * time.Second,
	"cassandra.proto_version":   0,
	"cassandra.page_size":       5000,
	"cassandra.partitioner":     "",
	"cassandra.ca_path":         "",
	"read.keyspace":             "",
	"read.table":                "",
	"read.query":                "",
	"read.ranges_file":          "",
	"export.dir":                "",
	"export.prefix":             "",
	"export.codec":              "jsonl",
	"export.compressor":         "zstd",
	"export.max_records":        10000,
	"export.columns":            []string{},
	"s3.bucket":                 "",
	"s3.prefix":                 "",
	"s3.region":                 "us-east-1",
	"s3.endpoint":               "",
	"s3.use_path_style":         false,
	"s3.access_key_id":          "",
	"s3.secret_access_key":      "",
	"log.level":                 "INFO",
	"log.format":                "text",
	"log.add_source":            false,
	"metrics.addr":              "",
	"workers":                   4,
}

// New returns a viper instance with defaults registered and environment
// lookup enabled. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if not empty) into v, then decodes and validates the
// merged configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Cassandra.Hosts = splitList(cfg.Cassandra.Hosts)
	cfg.Export.Columns = splitList(cfg.Export.Columns)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a read needs.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Cassandra.Hosts) == 0 {
		errs = append(errs, errors.New("cassandra.hosts is required"))
	}
	if c.Read.Keyspace == "" || c.Read.Table == "" {
		errs = append(errs, errors.New("read.keyspace and read.table are required"))
	}
	if (c.Export.Dir == "") == (c.S3.Bucket == "") {
		errs = append(errs, errors.New("exactly one of export.dir and s3.bucket is required"))
	}
	if c.Export.Codec == "parquet" && len(c.Export.Columns) == 0 {
		errs = append(errs, errors.New("export.columns is required for the parquet codec"))
	}
	if c.Export.MaxRecords <= 0 {
		errs = append(errs, errors.New("export.max_records must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// splitList accepts both repeated values and one comma-separated value, as
// environment variables provide.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
