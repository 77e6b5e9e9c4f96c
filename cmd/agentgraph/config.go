package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agentgraph configuration.
// Priority: AGENTGRAPH_* env vars > agentgraph.yaml > defaults.
type Config struct {
	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine struct {
		Policy      string `mapstructure:"policy"`
		CyclePolicy string `mapstructure:"cycle_policy"`
	} `mapstructure:"engine"`
	LLM struct {
		BaseURL    string        `mapstructure:"base_url"`
		APIKey     string        `mapstructure:"api_key"`
		Model      string        `mapstructure:"model"`
		Timeout    time.Duration `mapstructure:"timeout"`
		RPS        float64       `mapstructure:"rps"`
		Burst      int           `mapstructure:"burst"`
		MaxRetries int           `mapstructure:"max_retries"`
	} `mapstructure:"llm"`
	Vault struct {
		Passphrase string `mapstructure:"passphrase"`
		Salt       string `mapstructure:"salt"`
	} `mapstructure:"vault"`
	Catalog struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"catalog"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
}

func agentgraphDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgraph"
	}
	return filepath.Join(home, ".agentgraph")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", filepath.Join(agentgraphDir(), "agentgraph.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.policy", "fail_fast")
	v.SetDefault("engine.cycle_policy", "strict")
	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rps", 0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("vault.passphrase", "")
	v.SetDefault("vault.salt", "")
	v.SetDefault("catalog.path", "")
	v.SetDefault("http.addr", ":4200")
}

// loadConfig reads path, or agentgraph.yaml from ~/.agentgraph and the working
// directory when path is empty. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(agentgraphDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENTGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
