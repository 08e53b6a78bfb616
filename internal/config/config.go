package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Research Research `yaml:"research"`
	Search   Search   `yaml:"search"`
	Report   Report   `yaml:"report"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type LLM struct {
	Provider       string        `yaml:"provider"`
	Host           string        `yaml:"host"`
	PrimaryModel   string        `yaml:"primary_model"`
	FallbackModel  string        `yaml:"fallback_model"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        time.Duration `yaml:"backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Temperature    float64       `yaml:"temperature"`
}

type Research struct {
	Vectors               int           `yaml:"vectors"`
	MaxSourcesPerVector   int           `yaml:"max_sources_per_vector"`
	MaxCharsPerSource     int           `yaml:"max_chars_per_source"`
	MaxMasterContextChars int           `yaml:"max_master_context_chars"`
	MaxChartContextChars  int           `yaml:"max_chart_context_chars"`
	FetchTimeout          time.Duration `yaml:"fetch_timeout"`
	Concurrency           int           `yaml:"concurrency"`
	Charts                bool          `yaml:"charts"`
	AnalyticalMaps        bool          `yaml:"analytical_maps"`
}

type Search struct {
	Provider  string        `yaml:"provider"`
	Providers []string      `yaml:"providers"`
	UserAgent string        `yaml:"user_agent"`
	FeedURL   string        `yaml:"feed_url"`
	NewsAPI   NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
}

type Report struct {
	Sections []Section `yaml:"sections"`
}

// Section is one configured report section definition.
type Section struct {
	Title       string `yaml:"title"`
	Instruction string `yaml:"instruction"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// DefaultSections are the report sections used when none are configured.
var DefaultSections = []Section{
	{Title: "Executive Summary", Instruction: "Synthesize a high-level overview and market standing."},
	{Title: "SWOT Analysis", Instruction: "Provide a detailed Strengths, Weaknesses, Opportunities, and Threats breakdown."},
	{Title: "PESTLE Analysis", Instruction: "Analyze Political, Economic, Social, Technological, Legal, and Environmental factors."},
	{Title: "Porter's Five Forces", Instruction: "Assess industry competitiveness across all five forces."},
	{Title: "Moat & Defensibility", Instruction: "Evaluate long-term competitive advantage and its durability."},
	{Title: "Competitive Landscape", Instruction: "Analyze market share and direct competitor positioning."},
	{Title: "Strategic Outlook", Instruction: "Provide multi-year projections and final recommendations."},
}

// ConfigDir returns the XDG config directory for pegasus.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "pegasus")
}

// DataDir returns the XDG data directory for pegasus.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "pegasus")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/pegasus/config.yaml > ./config.yaml.
// An empty path with a nil error means no file exists and built-in
// defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields the
// built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:       "ollama",
			Host:           "https://ollama.com",
			PrimaryModel:   "gpt-oss:120b",
			FallbackModel:  "llama3.1",
			APIKeyEnv:      "OLLAMA_API_KEY",
			MaxRetries:     2,
			Backoff:        5 * time.Second,
			RequestTimeout: 120 * time.Second,
			Temperature:    0.3,
		},
		Research: Research{
			Vectors:               7,
			MaxSourcesPerVector:   3,
			MaxCharsPerSource:     2000,
			MaxMasterContextChars: 10000,
			MaxChartContextChars:  12000,
			FetchTimeout:          10 * time.Second,
			Concurrency:           1,
			Charts:                true,
		},
		Search: Search{
			Provider:  "duckduckgo",
			Providers: []string{"duckduckgo", "newsfeed"},
			UserAgent: "Mozilla/5.0 (compatible; Pegasus/1.0; market research agent)",
			FeedURL:   "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
			NewsAPI:   NewsAPIConfig{APIKeyEnv: "NEWSAPI_KEY"},
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Report.Sections) == 0 {
		cfg.Report.Sections = append([]Section(nil), DefaultSections...)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.PrimaryModel == "" {
		errs = append(errs, errors.New("llm.primary_model is required"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries))
	}
	if c.LLM.Backoff < 0 {
		errs = append(errs, fmt.Errorf("llm.backoff must be >= 0, got %s", c.LLM.Backoff))
	}
	if c.Research.Vectors < 1 {
		errs = append(errs, fmt.Errorf("research.vectors must be >= 1, got %d", c.Research.Vectors))
	}
	if c.Research.MaxSourcesPerVector < 1 {
		errs = append(errs, fmt.Errorf("research.max_sources_per_vector must be >= 1, got %d", c.Research.MaxSourcesPerVector))
	}
	if c.Research.MaxCharsPerSource < 1 {
		errs = append(errs, fmt.Errorf("research.max_chars_per_source must be >= 1, got %d", c.Research.MaxCharsPerSource))
	}
	if c.Research.MaxMasterContextChars < 1 {
		errs = append(errs, fmt.Errorf("research.max_master_context_chars must be >= 1, got %d", c.Research.MaxMasterContextChars))
	}
	if c.Research.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("research.concurrency must be >= 1, got %d", c.Research.Concurrency))
	}
	for i, s := range c.Report.Sections {
		if strings.TrimSpace(s.Title) == "" {
			errs = append(errs, fmt.Errorf("report.sections[%d] has no title", i))
		}
	}
	return errors.Join(errs...)
}

// APIKey returns the LLM API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// LoadEnv loads a .env file from the working directory if one exists.
func LoadEnv() {
	_ = godotenv.Load()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
