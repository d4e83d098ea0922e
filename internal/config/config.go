package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"

	DefaultSystemPrompt = "You are a friendly study assistant. Answer in the language of the question, " +
		"explain step by step and give short examples where they help."
)

type Config struct {
	Backend      string       `mapstructure:"backend"`
	Model        string       `mapstructure:"model"`
	SystemPrompt string       `mapstructure:"system_prompt"`
	Title        string       `mapstructure:"title"`
	StreamBuffer int          `mapstructure:"stream_buffer"`
	Dev          bool         `mapstructure:"dev"`
	LogPath      string       `mapstructure:"log_path"`
	Server       ServerConfig `mapstructure:"server"`
	Ollama       OllamaConfig `mapstructure:"ollama"`
	OpenAI       OpenAIConfig `mapstructure:"openai"`
	Gemini       GeminiConfig `mapstructure:"gemini"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

var defaultModels = map[string]string{
	BackendOllama: "llama3:8b",
	BackendOpenAI: "gpt-4o-mini",
	BackendGemini: "gemini-2.0-flash",
}

// flag name -> config key
var flagKeys = map[string]string{
	"backend":  "backend",
	"model":    "model",
	"dev":      "dev",
	"log-path": "log_path",
	"addr":     "server.addr",
	"title":    "title",
}

// Load merges, from lowest to highest precedence, defaults, the optional config file,
// .env and the environment, and the flags that were set on the command line.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("backend", BackendOllama)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("title", "Study Helper")
	v.SetDefault("stream_buffer", 16)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("ollama.host", "http://localhost:11434")

	v.SetEnvPrefix("studyhelper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindings := map[string][]string{
		"model":           {"STUDYHELPER_MODEL", "LLM_MODEL"},
		"ollama.host":     {"STUDYHELPER_OLLAMA_HOST", "OLLAMA_HOST"},
		"openai.api_key":  {"STUDYHELPER_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"openai.base_url": {"STUDYHELPER_OPENAI_BASE_URL", "OPENAI_BASE_URL"},
		"gemini.api_key":  {"STUDYHELPER_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", key)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("studyhelper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "studyhelper"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "failed to bind flag %s", name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Backend]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := defaultModels[c.Backend]; !ok {
		return errors.Errorf("unknown backend %q (want ollama, openai or gemini)", c.Backend)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("no model configured")
	}
	if c.StreamBuffer <= 0 {
		return errors.Errorf("stream_buffer must be positive, got %d", c.StreamBuffer)
	}
	return nil
}
