package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix prefixes environment variables overriding config keys,
// e.g. CLOUDBACKUP_BACKUP_ROOT_CLOUD_DIR.
const EnvPrefix = "CLOUDBACKUP"

// Backend types.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Archive compression methods.
const (
	CompressionDeflate = "deflate"
	CompressionStore   = "store"
	CompressionZstd    = "zstd"
)

// Backup error policies: which failed runs operations.Operator.RunBackup
// returns as errors. Local only returns validation and build failures.
const (
	ErrorPolicyLocal  = "local"
	ErrorPolicyNever  = "never"
	ErrorPolicyAlways = "always"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string          `mapstructure:"include"     yaml:"include,omitempty"`
	Backend     BackendConfig     `mapstructure:"backend"     yaml:"backend"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Backup      BackupConfig      `mapstructure:"backup"      yaml:"backup"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"    yaml:"schedule"`
	Log         LogConfig         `mapstructure:"log"         yaml:"log"`
}

// BackendConfig selects and configures the remote storage backend.
type BackendConfig struct {
	Type  string             `mapstructure:"type"  yaml:"type"`
	Local LocalBackendConfig `mapstructure:"local" yaml:"local,omitempty"`
	S3    S3BackendConfig    `mapstructure:"s3"    yaml:"s3,omitempty"`
}

// LocalBackendConfig holds the directory acting as the remote root.
type LocalBackendConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3BackendConfig holds settings for any S3-compatible object store.
type S3BackendConfig struct {
	Bucket   string `mapstructure:"bucket"   yaml:"bucket"`
	Prefix   string `mapstructure:"prefix"   yaml:"prefix,omitempty"`
	Region   string `mapstructure:"region"   yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UseSSL   bool   `mapstructure:"use_ssl"  yaml:"use_ssl"`
}

// CredentialsConfig holds the backend login and where to get it from.
type CredentialsConfig struct {
	Login       string      `mapstructure:"login"        yaml:"login,omitempty"`
	Password    string      `mapstructure:"password"     yaml:"password,omitempty"`
	MaxAttempts int         `mapstructure:"max_attempts" yaml:"max_attempts,omitempty"`
	Vault       VaultConfig `mapstructure:"vault"        yaml:"vault,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault and the KV path
// storing the backend login and password.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address"`
	Token    string `mapstructure:"token"     yaml:"token,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
	Path     string `mapstructure:"path"      yaml:"path"`
}

// Enabled reports whether credentials should be read from Vault.
func (v VaultConfig) Enabled() bool {
	return v.Path != ""
}

// BackupConfig contains what to back up and where.
type BackupConfig struct {
	RootCloudDir string   `mapstructure:"root_cloud_dir" yaml:"root_cloud_dir"`
	Paths        []string `mapstructure:"paths"          yaml:"paths"`
	TmpDir       string   `mapstructure:"tmp_dir"        yaml:"tmp_dir"`
	RootDir      string   `mapstructure:"root_dir"       yaml:"root_dir"`
	Compression  string   `mapstructure:"compression"    yaml:"compression"`
	ErrorPolicy  string   `mapstructure:"error_policy"   yaml:"error_policy"`
}

// ScheduleConfig drives the auto command.
type ScheduleConfig struct {
	Every      time.Duration `mapstructure:"every"       yaml:"every"`
	Cron       string        `mapstructure:"cron"        yaml:"cron,omitempty"`
	RetryAfter time.Duration `mapstructure:"retry_after" yaml:"retry_after"`
}

// Spec returns the cron spec for the schedule. An explicit cron expression
// wins over the interval.
func (s ScheduleConfig) Spec() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

// LogConfig configures the log sinks.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file"  yaml:"file,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.type", BackendLocal)
	v.SetDefault("backend.s3.region", "us-east-1")
	v.SetDefault("backend.s3.use_ssl", true)
	v.SetDefault("credentials.max_attempts", 0)
	v.SetDefault("backup.tmp_dir", "./tmp")
	v.SetDefault("backup.root_dir", ".")
	v.SetDefault("backup.compression", CompressionDeflate)
	v.SetDefault("backup.error_policy", ErrorPolicyLocal)
	v.SetDefault("schedule.every", 6*time.Hour)
	v.SetDefault("schedule.retry_after", 10*time.Minute)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks the configuration for missing or conflicting values.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend.Type {
	case BackendLocal:
		if c.Backend.Local.Path == "" {
			problems = append(problems, "backend.local.path is required")
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			problems = append(problems, "backend.s3.bucket is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("backend.type %q is not supported", c.Backend.Type))
	}

	if c.Backup.RootCloudDir == "" {
		problems = append(problems, "backup.root_cloud_dir is required")
	}
	if len(c.Backup.Paths) == 0 {
		problems = append(problems, "backup.paths must list at least one path")
	}
	if c.Backup.TmpDir == "" {
		problems = append(problems, "backup.tmp_dir is required")
	}

	switch c.Backup.Compression {
	case CompressionDeflate, CompressionStore, CompressionZstd:
	default:
		problems = append(problems, fmt.Sprintf("backup.compression %q is not supported", c.Backup.Compression))
	}

	switch c.Backup.ErrorPolicy {
	case ErrorPolicyLocal, ErrorPolicyNever, ErrorPolicyAlways:
	default:
		problems = append(problems, fmt.Sprintf("backup.error_policy %q is not supported", c.Backup.ErrorPolicy))
	}

	if c.Schedule.Cron == "" && c.Schedule.Every <= 0 {
		problems = append(problems, "schedule.every must be positive")
	}
	if c.Schedule.RetryAfter <= 0 {
		problems = append(problems, "schedule.retry_after must be positive")
	}
	if c.Credentials.MaxAttempts < 0 {
		problems = append(problems, "credentials.max_attempts must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidateConfig, strings.Join(problems, "; "))
	}
	return nil
}
