// Package config loads objgate's settings: a YAML file first, then
// OBJGATE_* environment overrides, then validation.
//
// The file is read from $OBJGATE_CONFIG, or ./objgate.yaml when unset.
// A missing file is not an error; every setting has a default.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/objgate/internal/database"
	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/logger"
	"github.com/koustreak/objgate/internal/multipart"
)

const (
	envPath        = "OBJGATE_CONFIG"
	defaultPath    = "./objgate.yaml"
	defaultAddr    = ":8080"
	defaultUserKey = "test"
)

// Journal backends besides the SQL drivers.
const (
	JournalNone   = "none"
	JournalMemory = "memory"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   filestore.Config `yaml:"storage"`
	Multipart multipart.Config `yaml:"multipart"`
	Journal   JournalConfig    `yaml:"journal"`
	Log       logger.Config    `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// MaxUploadBytes caps request bodies on upload routes. 0 means no cap.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// JournalConfig selects where multipart outcomes are recorded.
type JournalConfig struct {
	// Driver is none, memory, postgres or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Capacity bounds the memory journal.
	Capacity int `yaml:"capacity"`
}

// SQL reports whether the journal lives in a database.
func (j JournalConfig) SQL() bool {
	return j.Driver == string(database.DriverPostgres) || j.Driver == string(database.DriverMySQL)
}

// Database returns the connection settings for a SQL journal.
func (j JournalConfig) Database() *database.Config {
	return database.DefaultConfig(database.Driver(j.Driver), j.DSN)
}

// Default returns a configuration that talks to an S3 endpoint in
// us-east-1 with the "test" credentials LocalStack accepts.
func Default() *Config {
	storage := filestore.DefaultConfig("", defaultUserKey, defaultUserKey)
	storage.Provider = filestore.ProviderS3

	log := logger.DefaultConfig()
	log.Output = nil

	return &Config{
		Server: ServerConfig{
			ListenAddr:        defaultAddr,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Storage:   *storage,
		Multipart: *multipart.DefaultConfig(),
		Journal:   JournalConfig{Driver: JournalMemory, Capacity: 100},
		Log:       *log,
	}
}

// Load reads path, or the file named by $OBJGATE_CONFIG when path is empty,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getenv(envPath, defaultPath)
	}

	cfg := Default()

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot read config file "+path, err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot parse config file "+path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"OBJGATE_LISTEN_ADDR":        &c.Server.ListenAddr,
		"OBJGATE_STORAGE_ENDPOINT":   &c.Storage.Endpoint,
		"OBJGATE_STORAGE_REGION":     &c.Storage.Region,
		"OBJGATE_STORAGE_ACCESS_KEY": &c.Storage.AccessKey,
		"OBJGATE_STORAGE_SECRET_KEY": &c.Storage.SecretKey,
		"OBJGATE_JOURNAL_DRIVER":     &c.Journal.Driver,
		"OBJGATE_JOURNAL_DSN":        &c.Journal.DSN,
		"OBJGATE_LOG_LEVEL":          &c.Log.Level,
		"OBJGATE_LOG_FORMAT":         &c.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("OBJGATE_STORAGE_PROVIDER"); v != "" {
		c.Storage.Provider = filestore.Provider(v)
	}
	if v := os.Getenv("OBJGATE_STORAGE_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "OBJGATE_STORAGE_USE_SSL must be a boolean", err)
		}
		c.Storage.UseSSL = b
	}
	if v := os.Getenv("OBJGATE_PART_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "OBJGATE_PART_SIZE must be a byte count", err)
		}
		c.Multipart.PartSize = n
	}
	if v := os.Getenv("OBJGATE_PART_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "OBJGATE_PART_CONCURRENCY must be an integer", err)
		}
		c.Multipart.Concurrency = n
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server.listen_addr is required")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Multipart.Validate(); err != nil {
		return err
	}

	switch {
	case c.Journal.Driver == "", c.Journal.Driver == JournalNone, c.Journal.Driver == JournalMemory:
	case c.Journal.SQL():
		if err := c.Journal.Database().Validate(); err != nil {
			return err
		}
	default:
		return errs.Invalidf("unknown journal driver %q", c.Journal.Driver)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
