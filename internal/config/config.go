package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "STUDIO"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "studio.db"
	defaultLogLevel        = "info"
	defaultSessionTTL      = 12 * time.Hour
	defaultProviderBaseURL = "https://api.openai.com"
	defaultChatModel       = "gpt-4o-mini"
	defaultImageModel      = "gpt-image-1"
	defaultImageSize       = "1536x1024"
	defaultAudioModel      = "whisper-1"
	defaultStorageBucket   = "studio-artifacts"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	SessionTTL    time.Duration

	ProviderAPIKey  string
	ProviderBaseURL string
	ChatModel       string
	ImageModel      string
	ImageSize       string
	AudioModel      string

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	StoragePublicURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.ttl_minutes", int(defaultSessionTTL.Minutes()))
	configViper.SetDefault("provider.base_url", defaultProviderBaseURL)
	configViper.SetDefault("provider.chat_model", defaultChatModel)
	configViper.SetDefault("provider.image_model", defaultImageModel)
	configViper.SetDefault("provider.image_size", defaultImageSize)
	configViper.SetDefault("provider.audio_model", defaultAudioModel)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.use_ssl", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("session.signing_secret"),
		SessionTTL:    time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,

		ProviderAPIKey:  configViper.GetString("provider.api_key"),
		ProviderBaseURL: configViper.GetString("provider.base_url"),
		ChatModel:       configViper.GetString("provider.chat_model"),
		ImageModel:      configViper.GetString("provider.image_model"),
		ImageSize:       configViper.GetString("provider.image_size"),
		AudioModel:      configViper.GetString("provider.audio_model"),

		StorageEndpoint:  configViper.GetString("storage.endpoint"),
		StorageAccessKey: configViper.GetString("storage.access_key"),
		StorageSecretKey: configViper.GetString("storage.secret_key"),
		StorageBucket:    configViper.GetString("storage.bucket"),
		StorageUseSSL:    configViper.GetBool("storage.use_ssl"),
		StoragePublicURL: configViper.GetString("storage.public_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ProviderAPIKey) == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if strings.TrimSpace(c.StorageEndpoint) == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if strings.TrimSpace(c.StorageAccessKey) == "" || strings.TrimSpace(c.StorageSecretKey) == "" {
		return fmt.Errorf("storage.access_key and storage.secret_key are required")
	}
	if strings.TrimSpace(c.StorageBucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	return nil
}
