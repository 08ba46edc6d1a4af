package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Routing Keys
	RoutingCommandScraper = "command.scraper"
	RoutingLogScraper     = "log.scraper"
	RoutingResultScraper  = "result.scraper"

	// Exchange Type
	ExchangeTypeTopic = "topic"

	// Environment variable prefix, e.g. BEASISWA_SCRAPER_BASEURL
	EnvPrefix = "BEASISWA"
)

// Driver strategies
const (
	DriverAuto   = "auto"
	DriverSystem = "system"
	DriverLookup = "lookup"
)

// Config is the struct that holds the configuration of the application
type Config struct {
	App      AppConfig      `mapstructure:"app" json:"app"`
	RabbitMq RabbitMQConfig `mapstructure:"rabbitmq" json:"rabbitmq"`
	Scraper  ScraperConfig  `mapstructure:"scraper" json:"scraper"`
	Export   ExportConfig   `mapstructure:"export" json:"export"`
	WebPanel WebPanelConfig `mapstructure:"webpanel" json:"webpanel"`
}

type AppConfig struct {
	Name     string `mapstructure:"name" json:"name"`
	LogLevel int    `mapstructure:"logLevel" json:"logLevel"`
	Env      string `mapstructure:"env" json:"env"`
}

type RabbitMQConfig struct {
	URL              string     `mapstructure:"url" json:"url"`
	Exchange         string     `mapstructure:"exchange" json:"exchange"`
	Queue            QueueNames `mapstructure:"queue" json:"queue"`
	ReconnectRetries int        `mapstructure:"reconnectRetries" json:"reconnectRetries"`
	ReconnectTimeout int        `mapstructure:"reconnectTimeout" json:"reconnectTimeout"`
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

type QueueNames struct {
	Scraper string `mapstructure:"scraper" json:"scraper"`
}

// ScraperConfig drives the browser session and the pagination loop
type ScraperConfig struct {
	BaseURL      string        `mapstructure:"baseURL" json:"baseURL"`
	UserAgent    string        `mapstructure:"userAgent" json:"userAgent"`
	WaitTimeout  time.Duration `mapstructure:"waitTimeout" json:"waitTimeout"`
	SettleDelay  time.Duration `mapstructure:"settleDelay" json:"settleDelay"`
	PollInterval time.Duration `mapstructure:"pollInterval" json:"pollInterval"`
	MaxPages     int           `mapstructure:"maxPages" json:"maxPages"`
	WindowWidth  int           `mapstructure:"windowWidth" json:"windowWidth"`
	WindowHeight int           `mapstructure:"windowHeight" json:"windowHeight"`
	Headless     bool          `mapstructure:"headless" json:"headless"`
	BlockImages  bool          `mapstructure:"blockImages" json:"blockImages"`
	// Driver is one of auto, system or lookup
	Driver     string `mapstructure:"driver" json:"driver"`
	DriverPath string `mapstructure:"driverPath" json:"driverPath"`
}

type ExportConfig struct {
	Dir      string `mapstructure:"dir" json:"dir"`
	FileName string `mapstructure:"fileName" json:"fileName"`
}

type WebPanelConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "beasiswa")
	v.SetDefault("app.logLevel", 4)
	v.SetDefault("app.env", "development")

	v.SetDefault("rabbitmq.exchange", "beasiswa_exchange")
	v.SetDefault("rabbitmq.queue.scraper", "scraper_queue")
	v.SetDefault("rabbitmq.reconnectRetries", 5)
	v.SetDefault("rabbitmq.reconnectTimeout", 2000)

	v.SetDefault("scraper.baseURL", "https://luarkampus.id/beasiswa")
	v.SetDefault("scraper.userAgent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("scraper.waitTimeout", 25*time.Second)
	v.SetDefault("scraper.settleDelay", 2*time.Second)
	v.SetDefault("scraper.pollInterval", 250*time.Millisecond)
	v.SetDefault("scraper.maxPages", 200)
	v.SetDefault("scraper.windowWidth", 1920)
	v.SetDefault("scraper.windowHeight", 1080)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.blockImages", true)
	v.SetDefault("scraper.driver", DriverAuto)
	v.SetDefault("scraper.driverPath", "/usr/bin/chromium")

	v.SetDefault("export.dir", "output")
	v.SetDefault("export.fileName", "data_beasiswa_luarkampus.csv")

	v.SetDefault("webpanel.host", "http://localhost:8080")
	v.SetDefault("webpanel.port", 8080)
}

// Load config from config.json, .env and BEASISWA_* environment variables
func Load() (*Config, error) {
	// A missing .env is fine, the process environment still applies
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config") // File name without extension
	v.SetConfigType("json")   // Set to JSON format
	v.AddConfigPath(".")      // Look for config file in current directory
	return load(v)
}

// LoadFile reads an explicit config file instead of searching the working directory
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal JSON to Config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override from environment variables if available
	if envURL := os.Getenv("RABBITMQ_URL"); envURL != "" {
		config.RabbitMq.URL = envURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would otherwise make the scraper loop misbehave
func (c *Config) Validate() error {
	s := c.Scraper
	if s.BaseURL == "" {
		return fmt.Errorf("scraper.baseURL is required")
	}
	if s.WaitTimeout <= 0 {
		return fmt.Errorf("scraper.waitTimeout must be positive, got %s", s.WaitTimeout)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("scraper.pollInterval must be positive, got %s", s.PollInterval)
	}
	if s.MaxPages <= 0 {
		return fmt.Errorf("scraper.maxPages must be positive, got %d", s.MaxPages)
	}
	switch s.Driver {
	case DriverAuto, DriverSystem, DriverLookup:
	default:
		return fmt.Errorf("scraper.driver must be one of %s, %s, %s; got %q", DriverAuto, DriverSystem, DriverLookup, s.Driver)
	}
	return nil
}

// Get config for app
func (c *Config) GetAppConfig() *AppConfig {
	return &c.App
}

// Get config for scraping
func (c *Config) GetScraperConfig() *ScraperConfig {
	return &c.Scraper
}

// Get config for export
func (c *Config) GetExportConfig() *ExportConfig {
	return &c.Export
}

// Get config for web panel
func (c *Config) GetWebPanelConfig() *WebPanelConfig {
	return &c.WebPanel
}

// Get config for RabbitMQ
func (c *Config) GetRabbitMQConfig() *RabbitMQConfig {
	return &c.RabbitMq
}
