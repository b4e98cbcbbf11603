package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/watchcap/internal/device"
	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/logger"
	"github.com/loykin/watchcap/internal/proc"
	"github.com/loykin/watchcap/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string        `toml:"env" mapstructure:"env"`
	LockFile string          `toml:"lock_file" mapstructure:"lock_file"`
	Device   DeviceConfig    `toml:"device" mapstructure:"device"`
	Producer ProcConfig      `toml:"producer" mapstructure:"producer"`
	Consumer ProcConfig      `toml:"consumer" mapstructure:"consumer"`
	Policy   PolicyConfig    `toml:"policy" mapstructure:"policy"`
	Log      LogConfig       `toml:"log" mapstructure:"log"`
	EventLog eventlog.Config `toml:"eventlog" mapstructure:"eventlog"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
}

type DeviceConfig struct {
	Path         string        `toml:"path" mapstructure:"path"`
	VendorID     string        `toml:"vendor_id" mapstructure:"vendor_id"`
	ProductID    string        `toml:"product_id" mapstructure:"product_id"`
	ProbeCommand string        `toml:"probe_command" mapstructure:"probe_command"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type ProcConfig struct {
	Command   string         `toml:"command" mapstructure:"command"`
	WorkDir   string         `toml:"workdir" mapstructure:"workdir"`
	Env       []string       `toml:"env" mapstructure:"env"`
	StopGrace time.Duration  `toml:"stop_grace" mapstructure:"stop_grace"`
	Log       FileLogSection `toml:"log" mapstructure:"log"`
}

type FileLogSection struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type PolicyConfig struct {
	CrashThreshold  int           `toml:"crash_threshold" mapstructure:"crash_threshold"`
	BackoffInitial  time.Duration `toml:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `toml:"backoff_max" mapstructure:"backoff_max"`
	StabilityWindow time.Duration `toml:"stability_window" mapstructure:"stability_window"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
}

// HistoryConfig enables the sqlite event-history store fed by the event log.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// ServerConfig enables the HTTP control API.
type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Load parses the TOML file at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Device.Path == "" {
		return nil, fmt.Errorf("config %s: device.path is required", path)
	}
	if fc.Producer.Command == "" {
		return nil, fmt.Errorf("config %s: producer.command is required", path)
	}
	if fc.Consumer.Command == "" {
		return nil, fmt.Errorf("config %s: consumer.command is required", path)
	}
	return &fc, nil
}

// Supervisor converts the file form into the supervisor's runtime config.
func (fc *FileConfig) Supervisor() supervisor.Config {
	return supervisor.Config{
		Device: device.Handle{
			Path:      fc.Device.Path,
			VendorID:  fc.Device.VendorID,
			ProductID: fc.Device.ProductID,
		},
		ProbeCommand:    fc.Device.ProbeCommand,
		PollInterval:    fc.Device.PollInterval,
		ProbeTimeout:    fc.Device.ProbeTimeout,
		Producer:        fc.Producer.spec("producer"),
		Consumer:        fc.Consumer.spec("consumer"),
		CrashThreshold:  fc.Policy.CrashThreshold,
		BackoffInitial:  fc.Policy.BackoffInitial,
		BackoffMax:      fc.Policy.BackoffMax,
		StabilityWindow: fc.Policy.StabilityWindow,
		LockFile:        fc.LockFile,
		GlobalEnv:       fc.Env,
	}
}

func (pc ProcConfig) spec(name string) proc.Spec {
	return proc.Spec{
		Name:      name,
		Command:   pc.Command,
		WorkDir:   pc.WorkDir,
		Env:       pc.Env,
		StopGrace: pc.StopGrace,
		Log: logger.FileConfig{
			Dir:        pc.Log.Dir,
			StdoutPath: pc.Log.Stdout,
			StderrPath: pc.Log.Stderr,
			MaxSizeMB:  pc.Log.MaxSizeMB,
			MaxBackups: pc.Log.MaxBackups,
			MaxAgeDays: pc.Log.MaxAgeDays,
			Compress:   pc.Log.Compress,
		},
	}
}

// Logger converts the log section into the logger package's config.
func (fc *FileConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(fc.Log.Level),
			Format:     logger.Format(fc.Log.Format),
			Color:      fc.Log.Color,
			TimeStamps: fc.Log.TimeStamps,
			Source:     fc.Log.Source,
		},
	}
}
