package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by engine.backend
const (
	BackendElasticsearch = "elasticsearch"
	BackendBleve         = "bleve"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Indexer IndexerConfig `mapstructure:"indexer"`
	Query   QueryConfig   `mapstructure:"query"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // in seconds
}

// EngineConfig contains search engine connection settings
type EngineConfig struct {
	Backend        string `mapstructure:"backend"` // elasticsearch or bleve
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Scheme         string `mapstructure:"scheme"`
	IndexName      string `mapstructure:"index_name"`
	IndexPath      string `mapstructure:"index_path"`      // bleve only
	RequestTimeout int    `mapstructure:"request_timeout"` // in seconds
	MaxAttempts    int    `mapstructure:"max_attempts"`    // connection attempts at startup
	RetryDelay     int    `mapstructure:"retry_delay"`     // in seconds, fixed between attempts
}

// CatalogConfig contains the upstream catalog source settings
type CatalogConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // in seconds
}

// IndexerConfig contains reindex settings
type IndexerConfig struct {
	ReindexOnStart bool   `mapstructure:"reindex_on_start"`
	StatePath      string `mapstructure:"state_path"` // Path to persist the last reindex run
}

// QueryConfig contains query limits
type QueryConfig struct {
	MaxHits         int `mapstructure:"max_hits"`
	ExportPageSize  int `mapstructure:"export_page_size"`
	CursorKeepAlive int `mapstructure:"cursor_keep_alive"` // in seconds
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Env   string `mapstructure:"env"`   // prod, local, dev, docker
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.New(), configPath)
}

// Load reads configuration into v. Callers may bind command line flags to v
// before calling Load so that flags take precedence over file and environment.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/training-search")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("TSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Deployments next to an Elasticsearch container commonly set these
	_ = v.BindEnv("engine.host", "TSEARCH_ENGINE_HOST", "ELASTICSEARCH_HOST")
	_ = v.BindEnv("engine.port", "TSEARCH_ENGINE_PORT", "ELASTICSEARCH_PORT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist, the search paths are optional
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.shutdown_timeout", 30)
	// Engine defaults match a docker-compose deployment with an "elasticsearch" service
	v.SetDefault("engine.backend", BackendElasticsearch)
	v.SetDefault("engine.host", "elasticsearch")
	v.SetDefault("engine.port", 9200)
	v.SetDefault("engine.scheme", "http")
	v.SetDefault("engine.index_name", "bioimage-training")
	v.SetDefault("engine.index_path", "./indexes")
	v.SetDefault("engine.request_timeout", 30)
	v.SetDefault("engine.max_attempts", 60)
	v.SetDefault("engine.retry_delay", 10)
	v.SetDefault("catalog.url", "https://raw.githubusercontent.com/NFDI4BIOIMAGE/training/refs/heads/main/resources/nfdi4bioimage.yml")
	v.SetDefault("catalog.timeout", 60)
	v.SetDefault("indexer.reindex_on_start", true)
	v.SetDefault("indexer.state_path", "./reindex_state.json")
	v.SetDefault("query.max_hits", 1000)
	v.SetDefault("query.export_page_size", 1000)
	v.SetDefault("query.cursor_keep_alive", 120)
	v.SetDefault("logging.env", "prod")
	v.SetDefault("logging.level", "")
}

// Validate checks the settings that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendElasticsearch, BackendBleve:
	default:
		return fmt.Errorf("unknown engine backend %q", c.Engine.Backend)
	}
	if c.Engine.IndexName == "" {
		return errors.New("engine.index_name is required")
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be positive, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.RetryDelay < 0 {
		return fmt.Errorf("engine.retry_delay must not be negative, got %d", c.Engine.RetryDelay)
	}
	if c.Catalog.URL == "" {
		return errors.New("catalog.url is required")
	}
	if c.Query.MaxHits <= 0 {
		return fmt.Errorf("query.max_hits must be positive, got %d", c.Query.MaxHits)
	}
	if c.Query.ExportPageSize <= 0 {
		return fmt.Errorf("query.export_page_size must be positive, got %d", c.Query.ExportPageSize)
	}
	return nil
}

// Address returns the engine base URL, e.g. http://elasticsearch:9200
func (c *EngineConfig) Address() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Timeout returns the per request engine timeout
func (c *EngineConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Delay returns the fixed delay between connection attempts
func (c *EngineConfig) Delay() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// KeepAlive returns the export cursor lifetime
func (c *QueryConfig) KeepAlive() time.Duration {
	return time.Duration(c.CursorKeepAlive) * time.Second
}
