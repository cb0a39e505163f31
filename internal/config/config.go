// Package config provides configuration management for the lip-sync engine
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/rig"
	"github.com/normanking/cortexlipsync/internal/tts"
)

// EnvPrefix prefixes environment overrides, e.g. LIPSYNC_SPEECH_ENGINE.
const EnvPrefix = "LIPSYNC"

// Config holds all application configuration
type Config struct {
	LipSync LipSyncConfig `mapstructure:"lipsync"`
	Rig     RigConfig     `mapstructure:"rig"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`

	file string
}

// File is the config file Load read, empty when none was found.
func (c *Config) File() string {
	return c.file
}

// LipSyncConfig configures timing and articulation
type LipSyncConfig struct {
	lipsync.RateConfig `mapstructure:",squash"`

	DefaultArticulationIntensity float64            `mapstructure:"default_articulation_intensity"`
	ArticulationTable            map[string]float64 `mapstructure:"articulation_table"`
	TableFile                    string             `mapstructure:"table_file"` // YAML table, wins over articulation_table
	NeutralIntensity             float64            `mapstructure:"neutral_intensity"`
	Split                        lipsync.Split      `mapstructure:"split"`
	SpeakEmptyText               bool               `mapstructure:"speak_empty_text"`
}

// RigConfig configures rig lookup
type RigConfig struct {
	Path         string              `mapstructure:"path"` // glTF/GLB file for headless hosts
	JawBoneName  string              `mapstructure:"jaw_bone_name"`
	JawAxis      string              `mapstructure:"jaw_axis"`
	MaxJawAngle  float64             `mapstructure:"max_jaw_angle"` // radians at full intensity
	MorphTarget  string              `mapstructure:"morph_target"`
	HeadNodeName string              `mapstructure:"head_node_name"`
	IdleSway     avatar3d.SwayConfig `mapstructure:"idle_sway"`
}

// SpeechConfig configures the speech engine
type SpeechConfig struct {
	Engine    string        `mapstructure:"engine"` // auto, say, espeak, null
	Locale    string        `mapstructure:"locale"`
	LeadDelay time.Duration `mapstructure:"lead_delay"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"` // empty disables the log file
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// ServerConfig configures the control server
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	TickRate       int      `mapstructure:"tick_rate"` // host updates per second
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	rate := lipsync.DefaultRateConfig()
	speech := tts.DefaultConfig()
	return &Config{
		LipSync: LipSyncConfig{
			RateConfig:                   rate,
			DefaultArticulationIntensity: lipsync.DefaultIntensity,
			Split:                        lipsync.DefaultSplit,
		},
		Rig: RigConfig{
			JawBoneName:  rig.DefaultJawBoneName,
			JawAxis:      "x",
			MaxJawAngle:  0.3,
			HeadNodeName: "CC_Base_Head",
			IdleSway:     avatar3d.DefaultSwayConfig(),
		},
		Speech: SpeechConfig{
			Engine:    speech.Engine,
			Locale:    speech.Locale,
			LeadDelay: speech.LeadDelay,
		},
		Logging: LoggingConfig{
			Level:      string(logging.LevelInfo),
			Console:    true,
			MaxHistory: 1000,
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8765",
			TickRate: 60,
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every key known to AutomaticEnv.
	def := DefaultConfig()
	v.SetDefault("lipsync.base_words_per_minute", def.LipSync.BaseWordsPerMinute)
	v.SetDefault("lipsync.speaking_rate_factor", def.LipSync.SpeakingRateFactor)
	v.SetDefault("lipsync.reference_rate_factor", def.LipSync.ReferenceRateFactor)
	v.SetDefault("lipsync.default_articulation_intensity", def.LipSync.DefaultArticulationIntensity)
	v.SetDefault("lipsync.table_file", "")
	v.SetDefault("lipsync.neutral_intensity", def.LipSync.NeutralIntensity)
	v.SetDefault("lipsync.split.in", def.LipSync.Split.In)
	v.SetDefault("lipsync.split.hold", def.LipSync.Split.Hold)
	v.SetDefault("lipsync.split.out", def.LipSync.Split.Out)
	v.SetDefault("lipsync.speak_empty_text", def.LipSync.SpeakEmptyText)
	v.SetDefault("rig.path", "")
	v.SetDefault("rig.jaw_bone_name", def.Rig.JawBoneName)
	v.SetDefault("rig.jaw_axis", def.Rig.JawAxis)
	v.SetDefault("rig.max_jaw_angle", def.Rig.MaxJawAngle)
	v.SetDefault("rig.morph_target", "")
	v.SetDefault("rig.head_node_name", def.Rig.HeadNodeName)
	v.SetDefault("rig.idle_sway.enabled", def.Rig.IdleSway.Enabled)
	v.SetDefault("rig.idle_sway.min_interval", def.Rig.IdleSway.MinInterval)
	v.SetDefault("rig.idle_sway.max_interval", def.Rig.IdleSway.MaxInterval)
	v.SetDefault("rig.idle_sway.max_step", def.Rig.IdleSway.MaxStep)
	v.SetDefault("rig.idle_sway.max_angle", def.Rig.IdleSway.MaxAngle)
	v.SetDefault("rig.idle_sway.move_time", def.Rig.IdleSway.MoveTime)
	v.SetDefault("rig.idle_sway.seed", def.Rig.IdleSway.Seed)
	v.SetDefault("speech.engine", def.Speech.Engine)
	v.SetDefault("speech.locale", def.Speech.Locale)
	v.SetDefault("speech.lead_delay", def.Speech.LeadDelay)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.dir", def.Logging.Dir)
	v.SetDefault("logging.console", def.Logging.Console)
	v.SetDefault("logging.max_history", def.Logging.MaxHistory)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.tick_rate", def.Server.TickRate)
	v.SetDefault("server.allowed_origins", def.Server.AllowedOrigins)
	return v
}

// Load reads configuration from path (or the default search path when empty)
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lipsync")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.file = v.ConfigFileUsed()
	return cfg, nil
}

// Save writes the configuration as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("lipsync", map[string]any{
		"base_words_per_minute":          cfg.LipSync.BaseWordsPerMinute,
		"speaking_rate_factor":           cfg.LipSync.SpeakingRateFactor,
		"reference_rate_factor":          cfg.LipSync.ReferenceRateFactor,
		"default_articulation_intensity": cfg.LipSync.DefaultArticulationIntensity,
		"articulation_table":             cfg.LipSync.ArticulationTable,
		"table_file":                     cfg.LipSync.TableFile,
		"neutral_intensity":              cfg.LipSync.NeutralIntensity,
		"split": map[string]any{
			"in":   cfg.LipSync.Split.In,
			"hold": cfg.LipSync.Split.Hold,
			"out":  cfg.LipSync.Split.Out,
		},
		"speak_empty_text": cfg.LipSync.SpeakEmptyText,
	})
	v.Set("rig", map[string]any{
		"path":           cfg.Rig.Path,
		"jaw_bone_name":  cfg.Rig.JawBoneName,
		"jaw_axis":       cfg.Rig.JawAxis,
		"max_jaw_angle":  cfg.Rig.MaxJawAngle,
		"morph_target":   cfg.Rig.MorphTarget,
		"head_node_name": cfg.Rig.HeadNodeName,
		"idle_sway": map[string]any{
			"enabled":      cfg.Rig.IdleSway.Enabled,
			"min_interval": cfg.Rig.IdleSway.MinInterval.String(),
			"max_interval": cfg.Rig.IdleSway.MaxInterval.String(),
			"max_step":     cfg.Rig.IdleSway.MaxStep,
			"max_angle":    cfg.Rig.IdleSway.MaxAngle,
			"move_time":    cfg.Rig.IdleSway.MoveTime.String(),
			"seed":         cfg.Rig.IdleSway.Seed,
		},
	})
	v.Set("speech", map[string]any{
		"engine":     cfg.Speech.Engine,
		"locale":     cfg.Speech.Locale,
		"lead_delay": cfg.Speech.LeadDelay.String(),
	})
	v.Set("logging", map[string]any{
		"level":       cfg.Logging.Level,
		"dir":         cfg.Logging.Dir,
		"console":     cfg.Logging.Console,
		"max_history": cfg.Logging.MaxHistory,
	})
	v.Set("server", map[string]any{
		"addr":            cfg.Server.Addr,
		"tick_rate":       cfg.Server.TickRate,
		"allowed_origins": cfg.Server.AllowedOrigins,
	})
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexlipsync"), nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	ls := c.LipSync

	if ls.BaseWordsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("lipsync.base_words_per_minute must be positive, got %v", ls.BaseWordsPerMinute))
	}
	if ls.SpeakingRateFactor <= 0 {
		errs = append(errs, fmt.Errorf("lipsync.speaking_rate_factor must be positive, got %v", ls.SpeakingRateFactor))
	}
	if ls.ReferenceRateFactor <= 0 {
		errs = append(errs, fmt.Errorf("lipsync.reference_rate_factor must be positive, got %v", ls.ReferenceRateFactor))
	}
	if ls.DefaultArticulationIntensity < 0 || ls.DefaultArticulationIntensity > 1 {
		errs = append(errs, fmt.Errorf("lipsync.default_articulation_intensity: %w", lipsync.ErrIntensityRange))
	}
	if ls.NeutralIntensity < 0 || ls.NeutralIntensity > 1 {
		errs = append(errs, fmt.Errorf("lipsync.neutral_intensity: %w", lipsync.ErrIntensityRange))
	}
	for label, v := range ls.ArticulationTable {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("lipsync.articulation_table.%s: %w", label, lipsync.ErrIntensityRange))
		}
	}
	if _, err := rig.ParseAxis(c.Rig.JawAxis); err != nil {
		errs = append(errs, fmt.Errorf("rig.jaw_axis: %w", err))
	}
	if c.Rig.MaxJawAngle <= 0 {
		errs = append(errs, fmt.Errorf("rig.max_jaw_angle must be positive, got %v", c.Rig.MaxJawAngle))
	}
	if c.Speech.LeadDelay < 0 {
		errs = append(errs, fmt.Errorf("speech.lead_delay must not be negative, got %v", c.Speech.LeadDelay))
	}
	if c.Server.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_rate must be positive, got %d", c.Server.TickRate))
	}
	return errors.Join(errs...)
}

// Table builds the articulation table: table_file first, then the inline
// articulation_table, then the built-in table.
func (c *Config) Table() (*lipsync.Table, error) {
	ls := c.LipSync
	if ls.TableFile != "" {
		return lipsync.LoadTableFile(ls.TableFile)
	}
	if len(ls.ArticulationTable) > 0 {
		return lipsync.NewTable(ls.ArticulationTable, ls.DefaultArticulationIntensity)
	}
	def := lipsync.DefaultTable()
	if ls.DefaultArticulationIntensity == def.Default() {
		return def, nil
	}
	return lipsync.NewTable(def.Entries(), ls.DefaultArticulationIntensity)
}

// CoordinatorOptions maps the config onto the coordinator.
func (c *Config) CoordinatorOptions() avatar3d.Options {
	axis, _ := rig.ParseAxis(c.Rig.JawAxis)
	return avatar3d.Options{
		Rate:             c.LipSync.RateConfig,
		Split:            c.LipSync.Split,
		NeutralIntensity: c.LipSync.NeutralIntensity,
		MaxJawAngle:      c.Rig.MaxJawAngle,
		JawAxis:          axis,
		JawBoneName:      c.Rig.JawBoneName,
		MorphTarget:      c.Rig.MorphTarget,
		HeadNodeName:     c.Rig.HeadNodeName,
		Sway:             c.Rig.IdleSway,
		SpeakEmptyText:   c.LipSync.SpeakEmptyText,
	}
}

// SpeechOptions maps the config onto the speech trigger. The engine speaks at
// the same rate factor the duration estimate assumes.
func (c *Config) SpeechOptions() tts.Config {
	return tts.Config{
		Engine:    c.Speech.Engine,
		Locale:    c.Speech.Locale,
		Rate:      tts.EngineRate(c.LipSync.RateConfig),
		LeadDelay: c.Speech.LeadDelay,
	}
}

// LoggerConfig maps the config onto the logger.
func (c *Config) LoggerConfig() *logging.Config {
	return &logging.Config{
		LogDir:     c.Logging.Dir,
		Level:      logging.LogLevel(strings.ToLower(c.Logging.Level)),
		MaxHistory: c.Logging.MaxHistory,
		Console:    c.Logging.Console,
	}
}
