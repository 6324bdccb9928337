package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const DefaultBaseURL = "https://api.bugatlas.com/v1/api"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	BugAtlas  BugAtlasConfig  `mapstructure:"bugatlas"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Transform TransformConfig `mapstructure:"transform"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type BugAtlasConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Dispatcher sizing
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	// Upper bound for reporting a fatal fault before the process exits
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Circuit      CircuitConfig `mapstructure:"circuit"`
}

func (c BugAtlasConfig) Credentials() model.Credentials {
	return model.Credentials{APIKey: c.APIKey, APISecret: c.APISecret}
}

type CircuitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Consecutive failures before the breaker opens
	Threshold   uint32        `mapstructure:"threshold"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// ThrottleConfig caps how often an identical error record is uploaded.
type ThrottleConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxReports int           `mapstructure:"max_reports"`
	Window     time.Duration `mapstructure:"window"`
	Storage    struct {
		Type  string `mapstructure:"type"` // memory or redis
		Redis struct {
			Host     string        `mapstructure:"host"`
			Port     int           `mapstructure:"port"`
			Password string        `mapstructure:"password"`
			DB       int           `mapstructure:"db"`
			Timeout  time.Duration `mapstructure:"timeout"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`
}

// TransformConfig represents the payload redaction scripts
type TransformConfig struct {
	// Directory containing transformation scripts
	ScriptsDir string `mapstructure:"scripts_dir"`
	// Route mappings
	Services map[string]ServiceTransform `mapstructure:"services"`
}

// ServiceTransform binds a request path to a script directory
type ServiceTransform struct {
	// Exact URL path to match
	URL string `mapstructure:"url"`
	// Script directory name under ScriptsDir
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("bugatlas.api_key", "")
	v.SetDefault("bugatlas.api_secret", "")
	v.SetDefault("bugatlas.base_url", DefaultBaseURL)
	v.SetDefault("bugatlas.timeout", 10*time.Second)
	v.SetDefault("bugatlas.workers", 2)
	v.SetDefault("bugatlas.queue_size", 1000)
	v.SetDefault("bugatlas.flush_timeout", 5*time.Second)
	v.SetDefault("bugatlas.circuit.enabled", true)
	v.SetDefault("bugatlas.circuit.threshold", 5)
	v.SetDefault("bugatlas.circuit.open_timeout", 30*time.Second)

	v.SetDefault("throttle.enabled", false)
	v.SetDefault("throttle.max_reports", 10)
	v.SetDefault("throttle.window", time.Minute)
	v.SetDefault("throttle.storage.type", "memory")
}

// LoadConfig reads configPath, when given, on top of the defaults. Every key can
// be overridden from the environment, e.g. BUGATLAS_API_KEY.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Dir(configPath))
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
