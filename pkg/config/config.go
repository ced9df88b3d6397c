package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL       string  `yaml:"base_url"`
		Model         string  `yaml:"model"`
		EmbedModel    string  `yaml:"embed_model"`
		BoundaryModel string  `yaml:"boundary_model"`
		MaxTokens     int     `yaml:"max_tokens"`
		Temperature   float64 `yaml:"temperature"`
		RateLimit     float64 `yaml:"rate_limit"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Reranker struct {
		BaseURL     string `yaml:"base_url"`
		Model       string `yaml:"model"`
		TimeoutSecs int    `yaml:"timeout_secs"`
		TopK        int    `yaml:"top_k"`
	} `yaml:"reranker"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	Chunker struct {
		WindowSize          int `yaml:"window_size"`
		PercentileThreshold int `yaml:"percentile_threshold"`
		MaxChunkSize        int `yaml:"max_chunk_size"`
	} `yaml:"chunker"`

	Ingest struct {
		Workers     int `yaml:"workers"`
		SearchLimit int `yaml:"search_limit"`
	} `yaml:"ingest"`

	UI struct {
		Streaming bool `yaml:"streaming"`
	} `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docchat/config.yaml"),
			"/etc/docchat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "qwen3:1.7b"
	}
	if config.LLM.EmbedModel == "" {
		config.LLM.EmbedModel = "qwen3-embedding"
	}
	if config.LLM.BoundaryModel == "" {
		config.LLM.BoundaryModel = "all-minilm"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 4.0
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 4096
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Reranker.BaseURL == "" {
		config.Reranker.BaseURL = "http://localhost:8081"
	}
	if config.Reranker.Model == "" {
		config.Reranker.Model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}
	if config.Reranker.TimeoutSecs == 0 {
		config.Reranker.TimeoutSecs = 30
	}
	if config.Reranker.TopK == 0 {
		config.Reranker.TopK = 3
	}

	if config.Cache.Path == "" {
		config.Cache.Path = filepath.Join("cache", "ingest.db")
	}

	if config.Chunker.WindowSize == 0 {
		config.Chunker.WindowSize = 3
	}
	if config.Chunker.PercentileThreshold == 0 {
		config.Chunker.PercentileThreshold = 25
	}
	if config.Chunker.MaxChunkSize == 0 {
		config.Chunker.MaxChunkSize = 2000
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if config.Ingest.SearchLimit == 0 {
		config.Ingest.SearchLimit = 30
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if rerankURL := os.Getenv("RERANKER_URL"); rerankURL != "" {
		config.Reranker.BaseURL = rerankURL
	}
}
