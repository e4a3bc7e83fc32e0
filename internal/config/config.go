package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const FileName = "deepaudit.toml"

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSec     int    `toml:"timeout_sec"`
	MaxRetries     int    `toml:"max_retries"`
}

type CorpusConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	RateLimitDelay float64 `toml:"rate_limit_delay"`
	BatchSize      int     `toml:"batch_size"`
	MaxDuplicates  int     `toml:"max_duplicates"`
}

type StoreConfig struct {
	DBPath         string  `toml:"db_path"`
	DedupThreshold float64 `toml:"dedup_threshold"`
}

type CacheConfig struct {
	Dir          string `toml:"dir"`
	MaxSizeBytes int64  `toml:"max_size_bytes"`
	TTLHours     int    `toml:"ttl_hours"`
	LLMTTLHours  int    `toml:"llm_ttl_hours"`
}

// RiskWeights feed the per-function risk score used to pick deep-analysis
// candidates.
type RiskWeights struct {
	EntryPoint   int `toml:"entry_point"`
	ExternalCall int `toml:"external_call"`
	Delegatecall int `toml:"delegatecall"`
	Reentrancy   int `toml:"reentrancy"`
	Assembly     int `toml:"assembly"`
	Timestamp    int `toml:"timestamp"`
}

type AnalysisConfig struct {
	RiskThreshold       int         `toml:"risk_threshold"`
	MaxHighRisk         int         `toml:"max_high_risk"`
	SearchTopK          int         `toml:"search_top_k"`
	MinSimilarity       float64     `toml:"min_similarity"`
	HypothesisThreshold float64     `toml:"hypothesis_threshold"`
	SimilarityWeight    float64     `toml:"similarity_weight"`
	MinReportScore      float64     `toml:"min_report_score"`
	Strict              bool        `toml:"strict"`
	Workers             int         `toml:"workers"`
	Risk                RiskWeights `toml:"risk"`
}

type Config struct {
	DataDir  string         `toml:"data_dir"`
	LLM      LLMConfig      `toml:"llm"`
	Corpus   CorpusConfig   `toml:"corpus"`
	Store    StoreConfig    `toml:"store"`
	Cache    CacheConfig    `toml:"cache"`
	Analysis AnalysisConfig `toml:"analysis"`
}

func Default() Config {
	return Config{
		DataDir: "audit_data",
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			TimeoutSec:     60,
			MaxRetries:     3,
		},
		Corpus: CorpusConfig{
			BaseURL:        "https://solodit.cyfrin.io/api/v1/solodit",
			RateLimitDelay: 4.0,
			BatchSize:      100,
			MaxDuplicates:  10,
		},
		Store: StoreConfig{
			DBPath:         filepath.Join("audit_data", "patterns.db"),
			DedupThreshold: 0.90,
		},
		Cache: CacheConfig{
			Dir:          filepath.Join("audit_data", "cache"),
			MaxSizeBytes: 100 * 1024 * 1024,
			TTLHours:     24,
			LLMTTLHours:  168,
		},
		Analysis: AnalysisConfig{
			RiskThreshold:       20,
			MaxHighRisk:         20,
			SearchTopK:          3,
			MinSimilarity:       0.38,
			HypothesisThreshold: 0.60,
			SimilarityWeight:    0.6,
			MinReportScore:      70,
			Workers:             4,
			Risk: RiskWeights{
				EntryPoint:   15,
				ExternalCall: 20,
				Delegatecall: 45,
				Reentrancy:   40,
				Assembly:     25,
				Timestamp:    15,
			},
		},
	}
}

// Load searches upwards from startDir for deepaudit.toml and merges it over
// defaults. API keys fall back to the environment (a .env next to the config
// file is honored).
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	dir := startDir
	found := ""
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			b, err := os.ReadFile(candidate)
			if err != nil {
				return cfg, candidate, fmt.Errorf("read config: %w", err)
			}
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return cfg, candidate, fmt.Errorf("parse config: %w", err)
			}
			found = candidate
			_ = godotenv.Load(filepath.Join(dir, ".env"))
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if found == "" {
		_ = godotenv.Load()
	}
	cfg.applyEnv()
	return cfg, found, nil
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Corpus.APIKey == "" {
		c.Corpus.APIKey = os.Getenv("SOLODIT_API_KEY")
	}
}

// Write dumps the config as TOML, used by the init command.
func (c Config) Write(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// EnsureDataDir creates the data directory tree. Failure here is fatal at
// startup: an unwritable store path means nothing downstream can persist.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.MkdirAll(c.Cache.Dir, 0o755)
}
