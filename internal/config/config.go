package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable the CLI and pipelines read. Values come
// from a YAML file, then environment variables, then defaults.
type Config struct {
	Project struct {
		Root         string `yaml:"root"`
		TestsDir     string `yaml:"tests_dir"`
		CoverageFile string `yaml:"coverage_file"`
		ReportFile   string `yaml:"report_file"`
	} `yaml:"project"`
	AI struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		APIKey    string `yaml:"api_key"`
		BaseURL   string `yaml:"base_url"` // openai-compatible endpoints only
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"ai"`
	Fix struct {
		MaxIterations  int `yaml:"max_iterations"`
		MaxFixAttempts int `yaml:"max_fix_attempts"`
	} `yaml:"fix"`
	Gen struct {
		TargetCoverage  float64 `yaml:"target_coverage"`
		UnitBatchSize   int     `yaml:"unit_batch_size"`
		E2EBatchSize    int     `yaml:"e2e_batch_size"`
		MaxContextBytes int     `yaml:"max_context_bytes"`
	} `yaml:"gen"`
	History struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"history"`
}

// LoadConfig reads the YAML file at path. A missing file is not an
// error; environment variables and defaults still apply.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	var cfg Config
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env and defaults
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if apiKey := os.Getenv("TESTMEND_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if model := os.Getenv("TESTMEND_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if provider := os.Getenv("TESTMEND_PROVIDER"); provider != "" {
		cfg.AI.Provider = provider
	}
	if baseURL := os.Getenv("TESTMEND_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}

	// 4. Fill the gaps with defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a Config with every default applied and nothing else.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Project.Root == "" {
		c.Project.Root = "."
	}
	if c.Project.TestsDir == "" {
		c.Project.TestsDir = "tests"
	}
	if c.Project.CoverageFile == "" {
		c.Project.CoverageFile = "coverage.xml"
	}
	if c.Project.ReportFile == "" {
		c.Project.ReportFile = ".report.json"
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 32000
	}
	if c.Fix.MaxIterations <= 0 {
		c.Fix.MaxIterations = 3
	}
	if c.Fix.MaxFixAttempts <= 0 {
		c.Fix.MaxFixAttempts = 3
	}
	if c.Gen.TargetCoverage <= 0 {
		c.Gen.TargetCoverage = 90.0
	}
	if c.Gen.UnitBatchSize <= 0 {
		c.Gen.UnitBatchSize = 50
	}
	if c.Gen.E2EBatchSize <= 0 {
		c.Gen.E2EBatchSize = 20
	}
	if c.Gen.MaxContextBytes <= 0 {
		c.Gen.MaxContextBytes = 120000
	}
	if c.History.DBPath == "" {
		c.History.DBPath = ".testmend/history.db"
	}
}
