package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultGatewayAddress = "127.0.0.1:8083"

const (
	defaultBackendCommand     = "claude"
	defaultModel              = "opus"
	defaultIdleTimeoutSeconds = 600
	defaultBusyThresholdSecs  = 30
	defaultSessionExpiryDays  = 30
	defaultNotifyTimeoutSecs  = 15
)

var defaultModels = []string{"opus", "sonnet", "haiku"}

type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Backend  BackendConfig  `toml:"backend"`
	Sessions SessionsConfig `toml:"sessions"`
	Notify   NotifyConfig   `toml:"notify"`
	Logging  LoggingConfig  `toml:"logging"`
}

type GatewayConfig struct {
	Address              string `toml:"address"`
	Token                string `toml:"token"`
	BusyThresholdSeconds int    `toml:"busy_threshold_seconds"`
}

type BackendConfig struct {
	Command            string   `toml:"command"`
	DefaultModel       string   `toml:"default_model"`
	Models             []string `toml:"models"`
	WorkspaceDir       string   `toml:"workspace_dir"`
	SubagentDir        string   `toml:"subagent_dir"`
	IdleTimeoutSeconds int      `toml:"idle_timeout_seconds"`
	Env                []string `toml:"env"`
}

type SessionsConfig struct {
	Path       string `toml:"path"`
	ExpiryDays int    `toml:"expiry_days"`
}

type NotifyConfig struct {
	Command        string `toml:"command"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			Address:              defaultGatewayAddress,
			BusyThresholdSeconds: defaultBusyThresholdSecs,
		},
		Backend: BackendConfig{
			Command:            defaultBackendCommand,
			DefaultModel:       defaultModel,
			Models:             append([]string{}, defaultModels...),
			IdleTimeoutSeconds: defaultIdleTimeoutSeconds,
		},
		Sessions: SessionsConfig{
			ExpiryDays: defaultSessionExpiryDays,
		},
		Notify: NotifyConfig{
			TimeoutSeconds: defaultNotifyTimeoutSecs,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return Config{}, err
		}
	}
	cfg := Default()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	addr := strings.TrimSpace(c.Gateway.Address)
	if addr == "" {
		return defaultGatewayAddress
	}
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultGatewayAddress
	}
	return addr
}

func (c Config) Token() string {
	return strings.TrimSpace(c.Gateway.Token)
}

func (c Config) BusyThreshold() time.Duration {
	secs := c.Gateway.BusyThresholdSeconds
	if secs <= 0 {
		secs = defaultBusyThresholdSecs
	}
	return time.Duration(secs) * time.Second
}

func (c Config) BackendCommand() string {
	command := strings.TrimSpace(c.Backend.Command)
	if command == "" {
		return defaultBackendCommand
	}
	return command
}

func (c Config) DefaultModel() string {
	model := strings.TrimSpace(c.Backend.DefaultModel)
	if model == "" {
		return defaultModel
	}
	return model
}

func (c Config) Models() []string {
	models := normalizedList(c.Backend.Models)
	if len(models) == 0 {
		models = append([]string{}, defaultModels...)
	}
	return models
}

func (c Config) IdleTimeout() time.Duration {
	secs := c.Backend.IdleTimeoutSeconds
	if secs <= 0 {
		secs = defaultIdleTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// WorkspaceDir resolves the working directory handed to backend processes.
func (c Config) WorkspaceDir() (string, error) {
	dir := strings.TrimSpace(c.Backend.WorkspaceDir)
	if dir != "" {
		return resolvePath(dir)
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "workspace"), nil
}

// SubagentDir resolves the isolated working directory for subagent requests.
func (c Config) SubagentDir() (string, error) {
	dir := strings.TrimSpace(c.Backend.SubagentDir)
	if dir != "" {
		return resolvePath(dir)
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "workspace-subagent"), nil
}

func (c Config) BackendEnv() []string {
	return normalizedList(c.Backend.Env)
}

func (c Config) SessionsPath() (string, error) {
	path := strings.TrimSpace(c.Sessions.Path)
	if path != "" {
		return resolvePath(path)
	}
	return SessionsDBPath()
}

func (c Config) SessionExpiry() time.Duration {
	days := c.Sessions.ExpiryDays
	if days <= 0 {
		days = defaultSessionExpiryDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c Config) NotifyCommand() string {
	return strings.TrimSpace(c.Notify.Command)
}

func (c Config) NotifyTimeout() time.Duration {
	secs := c.Notify.TimeoutSeconds
	if secs <= 0 {
		secs = defaultNotifyTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}

func normalizedList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
