package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.json"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LogSource  LogSourceConfig  `yaml:"log_source"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Relay      RelayConfig      `yaml:"relay"`
	Greeting   GreetingConfig   `yaml:"greeting"`
	Presence   PresenceConfig   `yaml:"presence"`
	Discord    DiscordConfig    `yaml:"discord"`
	Advertiser AdvertiserConfig `yaml:"advertiser"`
	OTel       OTelConfig       `yaml:"otel"`
	Feed       FeedConfig       `yaml:"feed"`
	Logging    LoggingConfig    `yaml:"logging"`

	relayKinds []Kind
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	RCONPort        string `yaml:"rcon_port"`
	Password        string `yaml:"-"` // from env only
	BotName         string `yaml:"bot_name"`
	ProtocolVersion string `yaml:"protocol_version"`
	PollIntervalMS  int    `yaml:"poll_interval_ms"`
	ChatCommand     string `yaml:"chat_command"`
	ListCommand     string `yaml:"list_command"`
	GamemodeCommand string `yaml:"gamemode_command"`
	LeaveMessage    string `yaml:"leave_message"`
}

type LogSourceConfig struct {
	Type      string `yaml:"type"` // none, file, k8s
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	PodLabel  string `yaml:"pod_label"`
}

type ReconnectConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries"` // 0 = unbounded
	DelayMS    int  `yaml:"delay_ms"`
}

type RelayConfig struct {
	Events []string `yaml:"events"`
	Censor []string `yaml:"censor"`
	// plain notices sent through every integration; empty disables
	StartupNotice  string `yaml:"startup_notice"`
	ShutdownNotice string `yaml:"shutdown_notice"`
}

type GreetingConfig struct {
	Messages []string `yaml:"messages"`
	DelayMS  int      `yaml:"delay_ms"`
}

type PresenceConfig struct {
	ExcludeBot   bool     `yaml:"exclude_bot"`
	ExcludeNames []string `yaml:"exclude_names"`
}

type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"-"` // from env only
	ChannelID string `yaml:"channel_id"`
	GuildID   string `yaml:"guild_id"`
	Commands  bool   `yaml:"commands"`
}

type AdvertiserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Name      string `yaml:"name"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type OTelConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	MetricsIntervalMS int    `yaml:"metrics_interval_ms"`
}

type FeedConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "localhost",
			RCONPort:       "25575",
			BotName:        "Relay",
			PollIntervalMS: 5000,
			ChatCommand:    defaultChatCommand,
			ListCommand:    defaultListCommand,
		},
		LogSource: LogSourceConfig{
			Type:      "none",
			Namespace: "default",
		},
		Reconnect: ReconnectConfig{
			Enabled:    true,
			MaxRetries: 0,
			DelayMS:    5000,
		},
		Relay: RelayConfig{
			Events: []string{"join", "leave", "death", "chat", "version-mismatch"},
		},
		Greeting: GreetingConfig{
			DelayMS: 1000,
		},
		Presence: PresenceConfig{
			ExcludeBot: true,
		},
		Discord: DiscordConfig{
			Enabled:  true,
			Commands: true,
		},
		Advertiser: AdvertiserConfig{
			TimeoutMS: 5000,
		},
		OTel: OTelConfig{
			ServiceName:       "gamechat-relay",
			MetricsIntervalMS: 15000,
		},
		Feed: FeedConfig{
			Listen: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// loadConfig reads the config document at path, then applies .env and
// environment overrides. A missing document is only an error when the path
// was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers secrets and runtime values from the environment.
func (c *Config) applyEnv() {
	c.Server.Password = os.Getenv("RCON_PASSWORD")
	if v := os.Getenv("RCON_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RCON_PORT"); v != "" {
		c.Server.RCONPort = v
	}
	c.Discord.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
	if v := os.Getenv("DISCORD_CHANNEL_ID"); v != "" {
		c.Discord.ChannelID = v
	}
}

func (c *Config) validate() error {
	if c.Server.Password == "" {
		return errors.New("RCON_PASSWORD env is required")
	}
	if c.Server.Host == "" || c.Server.RCONPort == "" {
		return errors.New("server.host and server.rcon_port are required")
	}

	kinds := make([]Kind, 0, len(c.Relay.Events))
	for _, name := range c.Relay.Events {
		k, err := ParseKind(name)
		if err != nil {
			return fmt.Errorf("relay.events: %w", err)
		}
		kinds = append(kinds, k)
	}
	c.relayKinds = kinds

	if c.Reconnect.MaxRetries < 0 {
		return errors.New("reconnect.max_retries must not be negative")
	}

	switch c.LogSource.Type {
	case "", "none":
	case "file":
		if c.LogSource.Path == "" {
			return errors.New("log_source.path is required for type file")
		}
	case "k8s":
		if c.LogSource.PodLabel == "" {
			return errors.New("log_source.pod_label is required for type k8s")
		}
	default:
		return fmt.Errorf("log_source.type %q is not one of none, file, k8s", c.LogSource.Type)
	}

	if c.Discord.BotToken == "" {
		c.Discord.Enabled = false
	}
	if c.Discord.Enabled && c.Discord.ChannelID == "" {
		return errors.New("DISCORD_CHANNEL_ID or discord.channel_id is required when DISCORD_BOT_TOKEN is set")
	}
	if c.Advertiser.Enabled && c.Advertiser.URL == "" {
		return errors.New("advertiser.url is required when the advertiser is enabled")
	}
	return nil
}

// RelayKinds returns the validated event kinds to relay.
func (c *Config) RelayKinds() []Kind {
	return c.relayKinds
}

func (c *Config) managerConfig() ManagerConfig {
	return ManagerConfig{
		BotName:         c.Server.BotName,
		ExcludeBot:      c.Presence.ExcludeBot,
		ExcludeNames:    c.Presence.ExcludeNames,
		ExpectedVersion: c.Server.ProtocolVersion,
		Reconnect: ReconnectPolicy{
			Enabled:    c.Reconnect.Enabled,
			MaxRetries: c.Reconnect.MaxRetries,
			Delay:      millis(c.Reconnect.DelayMS),
		},
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
