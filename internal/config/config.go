// Package config loads the filemover settings from flags, an optional config file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/openmined/filemover/internal/storage"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultInputPath  = "/input"
	DefaultOutputPath = "/output"
	DefaultRegion     = "us-east-1"
	archiveDirName    = "archive"
	smbMask           = "<SMB SHARE>"
	hiddenMask        = "<HIDDEN>"
)

// envNames maps config keys to the environment variables they are read from.
var envNames = map[string]string{
	"input_path":           "SMB_INPUTPATH",
	"output_path":          "SMB_OUTPUTPATH",
	"sleep_time":           "SLEEPTIME",
	"archive":              "ARCHIVE",
	"archive_path":         "ARCHIVE_PATH",
	"archive_sweep_hours":  "ARCHIVE_SWEEP_HOURS",
	"archive_max_age_days": "ARCHIVE_MAX_AGE_DAYS",
	"clear_input":          "CLEAR_INPUT",
	"skip_existing":        "SKIP_EXISTING",
	"heartbeat_seconds":    "HEARTBEAT_SECONDS",
	"ignore":               "IGNORE",
	"verbose":              "VERBOSE",
	"mega_verbose":         "MEGAVERBOSE",
	"log_file":             "LOG_FILE",
	"lock_file":            "LOCK_FILE",
	"smb_username":         "SMB_USERNAME",
	"smb_password":         "SMB_PASSWORD",
	"smb_domain":           "SMB_DOMAIN",
	"smb_port":             "SMB_PORT",
	"s3_region":            "S3_REGION",
	"s3_endpoint":          "S3_ENDPOINT",
	"s3_access_key":        "S3_ACCESS_KEY",
	"s3_secret_key":        "S3_SECRET_KEY",
}

var defaults = map[string]any{
	"input_path":           DefaultInputPath,
	"output_path":          DefaultOutputPath,
	"sleep_time":           5,
	"archive":              "FALSE",
	"archive_sweep_hours":  24,
	"archive_max_age_days": 0,
	"clear_input":          "FALSE",
	"skip_existing":        "TRUE",
	"heartbeat_seconds":    60,
	"verbose":              "FALSE",
	"mega_verbose":         "FALSE",
	"smb_port":             storage.DefaultSMBPort,
	"s3_region":            DefaultRegion,
}

type Config struct {
	InputPath     string
	OutputPath    string
	SleepTime     time.Duration
	Archive       bool
	ArchivePath   string
	ArchiveSweep  time.Duration
	ArchiveMaxAge time.Duration
	ClearInput    bool
	SkipExisting  bool
	Heartbeat     time.Duration
	Ignore        []string
	Verbose       bool
	MegaVerbose   bool
	LogFile       string
	LockFile      string
	SMB           storage.SMBConfig
	S3            storage.S3Config
	// Path is the config file that was read, if any.
	Path string
}

// LoadDotEnv exports the variables of a .env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Bind registers defaults and environment variable names on v.
func Bind(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
}

// ReadFile reads the config file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config read '%s': %w", path, err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	var errs []error
	seconds := func(key string, unit time.Duration) time.Duration {
		raw := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a whole number", envNames[key], raw))
			return 0
		}
		return time.Duration(n) * unit
	}

	cfg := &Config{
		InputPath:     strings.TrimSpace(v.GetString("input_path")),
		OutputPath:    strings.TrimSpace(v.GetString("output_path")),
		SleepTime:     seconds("sleep_time", time.Second),
		Archive:       flag(v, "archive"),
		ArchivePath:   strings.TrimSpace(v.GetString("archive_path")),
		ArchiveSweep:  seconds("archive_sweep_hours", time.Hour),
		ArchiveMaxAge: seconds("archive_max_age_days", 24*time.Hour),
		ClearInput:    flag(v, "clear_input"),
		SkipExisting:  flag(v, "skip_existing"),
		Heartbeat:     seconds("heartbeat_seconds", time.Second),
		Ignore:        splitList(v.GetString("ignore")),
		Verbose:       flag(v, "verbose"),
		MegaVerbose:   flag(v, "mega_verbose"),
		LogFile:       v.GetString("log_file"),
		LockFile:      v.GetString("lock_file"),
		SMB: storage.SMBConfig{
			Username: v.GetString("smb_username"),
			Password: v.GetString("smb_password"),
			Domain:   v.GetString("smb_domain"),
			Port:     v.GetInt("smb_port"),
		},
		S3: storage.S3Config{
			Region:    v.GetString("s3_region"),
			Endpoint:  v.GetString("s3_endpoint"),
			AccessKey: v.GetString("s3_access_key"),
			SecretKey: v.GetString("s3_secret_key"),
		},
		Path: v.ConfigFileUsed(),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	if cfg.Archive && cfg.ArchivePath == "" {
		cfg.ArchivePath = storage.Join(storage.NormalizeDir(cfg.OutputPath), archiveDirName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flag reads a boolean the way the environment has always been read:
// anything other than FALSE, in any case, is true.
func flag(v *viper.Viper, key string) bool {
	return !strings.EqualFold(strings.TrimSpace(v.GetString(key)), "false")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("%w: input path is empty", ErrInvalidConfig)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output path is empty", ErrInvalidConfig)
	}
	if c.SleepTime <= 0 {
		return fmt.Errorf("%w: sleep time must be positive, got %s", ErrInvalidConfig, c.SleepTime)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %s", ErrInvalidConfig, c.Heartbeat)
	}
	if c.ArchiveMaxAge < 0 {
		return fmt.Errorf("%w: archive max age must not be negative", ErrInvalidConfig)
	}
	if c.Archive && c.ArchiveMaxAge > 0 && c.ArchiveSweep <= 0 {
		return fmt.Errorf("%w: archive sweep interval must be positive", ErrInvalidConfig)
	}
	if c.SMB.Port <= 0 || c.SMB.Port > 65535 {
		return fmt.Errorf("%w: smb port %d out of range", ErrInvalidConfig, c.SMB.Port)
	}
	return nil
}

// LogAttrs describes the effective settings for the startup banner.
// Secrets are hidden and SMB share paths are masked.
func (c *Config) LogAttrs() []any {
	password := ""
	if c.SMB.Password != "" {
		password = hiddenMask
	}
	attrs := []any{
		"SMB_USERNAME", c.SMB.Username,
		"SMB_PASSWORD", password,
		"SMB_INPUTPATH", maskPath(c.InputPath),
		"SMB_OUTPUTPATH", maskPath(c.OutputPath),
		"SLEEPTIME", c.SleepTime,
		"ARCHIVE", c.Archive,
	}
	if c.Archive {
		attrs = append(attrs, "ARCHIVE_PATH", maskPath(c.ArchivePath))
		if c.ArchiveMaxAge > 0 {
			attrs = append(attrs, "ARCHIVE_MAX_AGE", c.ArchiveMaxAge)
		}
	}
	attrs = append(attrs,
		"CLEAR_INPUT", c.ClearInput,
		"SKIP_EXISTING", c.SkipExisting,
		"VERBOSE", c.Verbose,
		"MEGAVERBOSE", c.MegaVerbose,
	)
	if len(c.Ignore) > 0 {
		attrs = append(attrs, "IGNORE", strings.Join(c.Ignore, ","))
	}
	if c.S3.AccessKey != "" {
		attrs = append(attrs, "S3_ACCESS_KEY", maskSecret(c.S3.AccessKey))
	}
	if c.Path != "" {
		attrs = append(attrs, "config", c.Path)
	}
	return attrs
}

// LogSettings writes the startup banner.
func (c *Config) LogSettings() {
	slog.Info("starting filemover", c.LogAttrs()...)
}

func maskPath(p string) string {
	if storage.IsSMBPath(p) {
		return smbMask
	}
	return p
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}

// YAML renders the masked settings in banner order.
func (c *Config) YAML() ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	attrs := c.LogAttrs()
	for i := 0; i+1 < len(attrs); i += 2 {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(attrs[i])}
		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(attrs[i+1])}
		switch v := attrs[i+1].(type) {
		case bool:
			value.Tag = "!!bool"
			value.Value = strconv.FormatBool(v)
		case time.Duration:
			value.Value = v.String()
		}
		doc.Content = append(doc.Content, key, value)
	}
	return yaml.Marshal(doc)
}
