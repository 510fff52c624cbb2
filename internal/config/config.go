package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Agent struct {
	ServerURL      string        `mapstructure:"server_url"`
	SyntheticMedia bool          `mapstructure:"synthetic_media"`
	Appointment    string        `mapstructure:"appointment"`
	Identity       string        `mapstructure:"identity"`
	Role           string        `mapstructure:"role"`
	CallID         string        `mapstructure:"call_id"`
	Duration       time.Duration `mapstructure:"duration"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Database Database `mapstructure:"database"`

	ICEServers        []string      `mapstructure:"ice_servers"`
	CandidateLimit    int           `mapstructure:"candidate_limit"`
	CandidateInterval time.Duration `mapstructure:"candidate_interval"`

	Agent Agent `mapstructure:"agent"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"server":      "agent.server_url",
	"synthetic":   "agent.synthetic_media",
	"appointment": "agent.appointment",
	"identity":    "agent.identity",
	"role":        "agent.role",
	"call":        "agent.call_id",
	"duration":    "agent.duration",
	"db-driver":   "database.driver",
	"db-dsn":      "database.dsn",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "telecall-dev-secret")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("candidate_limit", 64)
	v.SetDefault("candidate_interval", "10s")
	v.SetDefault("agent.server_url", "http://localhost:8080")
	v.SetDefault("agent.synthetic_media", true)
	v.SetDefault("agent.role", "initiator")
	v.SetDefault("agent.duration", "0s")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. TELECALL_*
// variables override both, and flags, when given, override everything.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("telecall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				key = f.Name
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("db", cfg.Database.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q: want memory, sqlite or postgres", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	if c.CandidateLimit <= 0 || c.CandidateInterval <= 0 {
		return fmt.Errorf("candidate_limit and candidate_interval must be positive")
	}
	return nil
}
