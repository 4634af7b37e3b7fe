package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
	Google   GoogleConfig   `toml:"google"`
	Session  SessionConfig  `toml:"session"`
	Policy   PolicyConfig   `toml:"policy"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	HealthPort int `toml:"health_port"`
}

// ServicesConfig holds the base URLs of the external backends. The Drive and
// Sheets bridges front the Google APIs; the RAG server speaks the ChromaDB
// REST API; the Memory server is a plain key-value HTTP store.
type ServicesConfig struct {
	RAGURL        string `toml:"rag_url"`
	RAGCollection string `toml:"rag_collection"`
	MemoryURL     string `toml:"memory_url"`
	DriveURL      string `toml:"drive_url"`
	SheetsURL     string `toml:"sheets_url"`
}

type GoogleConfig struct {
	// ProjectsFolderID is the Drive folder under which project folders are
	// auto-created. Required for auto-creation mode in setup_project.
	ProjectsFolderID string `toml:"projects_folder_id"`
}

type SessionConfig struct {
	UserName string `toml:"user_name"`
}

// PolicyConfig holds tunable heuristics. The similarity thresholds are tied
// to the embedding model's score distribution and are policy, not behavior.
type PolicyConfig struct {
	ProjectSimilarityThreshold float64 `toml:"project_similarity_threshold"`
	DocTypeMatchThreshold      float64 `toml:"doctype_match_threshold"`
	RetryMaxRetries            int     `toml:"retry_max_retries"`
	RetryBaseDelay             string  `toml:"retry_base_delay"`
	RetryMaxDelay              string  `toml:"retry_max_delay"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			HealthPort: 4620,
		},
		Services: ServicesConfig{
			RAGURL:        "http://localhost:8000",
			RAGCollection: "prismind",
			MemoryURL:     "http://localhost:8080",
			DriveURL:      "http://localhost:8090",
			SheetsURL:     "http://localhost:8091",
		},
		Session: SessionConfig{
			UserName: "default",
		},
		Policy: PolicyConfig{
			ProjectSimilarityThreshold: 0.7,
			DocTypeMatchThreshold:      0.75,
			RetryMaxRetries:            3,
			RetryBaseDelay:             "500ms",
			RetryMaxDelay:              "10s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prismind"
	}
	return filepath.Join(home, ".local", "share", "prismind")
}

// Load reads configuration from the first config file found, then applies
// PRISMIND_* environment variable overrides. The search order is
// $PRISMIND_CONFIG, ./config.toml, ~/.config/prismind/config.toml. A missing
// file is not an error; defaults are used.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("PRISMIND_CONFIG"))
}

// LoadFrom is Load with an explicit config path. An empty path triggers the
// default search order.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	file := findConfigFile(path)
	if file != "" {
		if _, err := toml.DecodeFile(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", file, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile(explicit string) string {
	candidates := []string{explicit, "config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "prismind", "config.toml"))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setStr("PRISMIND_RAG_URL", &cfg.Services.RAGURL)
	setStr("PRISMIND_RAG_COLLECTION", &cfg.Services.RAGCollection)
	setStr("PRISMIND_MEMORY_URL", &cfg.Services.MemoryURL)
	setStr("PRISMIND_DRIVE_URL", &cfg.Services.DriveURL)
	setStr("PRISMIND_SHEETS_URL", &cfg.Services.SheetsURL)
	setStr("PRISMIND_PROJECTS_FOLDER_ID", &cfg.Google.ProjectsFolderID)
	setStr("PRISMIND_USER_NAME", &cfg.Session.UserName)
	setStr("PRISMIND_DATA_DIR", &cfg.Storage.DataDir)
	setStr("PRISMIND_LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("PRISMIND_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HealthPort = port
		}
	}
}

func (c Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", c.Log.Level)
	}
	if c.Policy.ProjectSimilarityThreshold < 0 || c.Policy.ProjectSimilarityThreshold > 1 {
		return fmt.Errorf("project_similarity_threshold %v out of range [0, 1]", c.Policy.ProjectSimilarityThreshold)
	}
	if c.Policy.DocTypeMatchThreshold < 0 || c.Policy.DocTypeMatchThreshold > 1 {
		return fmt.Errorf("doctype_match_threshold %v out of range [0, 1]", c.Policy.DocTypeMatchThreshold)
	}
	if _, err := time.ParseDuration(c.Policy.RetryBaseDelay); err != nil {
		return fmt.Errorf("invalid retry_base_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Policy.RetryMaxDelay); err != nil {
		return fmt.Errorf("invalid retry_max_delay: %w", err)
	}
	return nil
}

// RetryBaseDelayDuration returns the parsed retry base delay. validate()
// guarantees the string parses.
func (c Config) RetryBaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.Policy.RetryBaseDelay)
	return d
}

// RetryMaxDelayDuration returns the parsed retry max delay.
func (c Config) RetryMaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.Policy.RetryMaxDelay)
	return d
}
