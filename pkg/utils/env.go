package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrConfigValueRequired is returned by GetStringRequired for a missing key.
var ErrConfigValueRequired = errors.New("config: required value missing")

// ConfigSource defines where configuration is loaded from
type ConfigSource interface {
	Get(key string) (string, bool)
}

// ConfigManager reads typed configuration values from a ConfigSource,
// falling back to the supplied default (and logging why) whenever a value is
// missing or malformed.
type ConfigManager struct {
	source ConfigSource
	logger *Logger

	accessCount map[string]uint64
	accessMu    sync.Mutex
}

// ConfigManagerConfig holds configuration for the config manager
type ConfigManagerConfig struct {
	Source ConfigSource
	Logger *Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(config *ConfigManagerConfig) (*ConfigManager, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Source == nil {
		config.Source = &envSource{}
	}
	return &ConfigManager{
		source:      config.Source,
		logger:      config.Logger,
		accessCount: make(map[string]uint64),
	}, nil
}

// SetLogger attaches a logger once one is available; the config manager is
// usually built before logging is configured.
func (cm *ConfigManager) SetLogger(logger *Logger) {
	cm.logger = logger
}

func (cm *ConfigManager) lookup(key string) (string, bool) {
	value, exists := cm.source.Get(key)
	cm.accessMu.Lock()
	cm.accessCount[key]++
	cm.accessMu.Unlock()
	value = strings.TrimSpace(value)
	return value, exists && value != ""
}

// GetString returns a string configuration value
func (cm *ConfigManager) GetString(key, defaultValue string) string {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	return value
}

// GetStringRequired returns a required string value or error
func (cm *ConfigManager) GetStringRequired(key string) (string, error) {
	value, ok := cm.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConfigValueRequired, key)
	}
	return value, nil
}

// GetInt returns an integer configuration value
func (cm *ConfigManager) GetInt(key string, defaultValue int) int {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		cm.logInvalid(key, err)
		return defaultValue
	}
	return parsed
}

// GetIntRange returns an integer within specified bounds
func (cm *ConfigManager) GetIntRange(key string, defaultValue, min, max int) int {
	value := cm.GetInt(key, defaultValue)
	if value < min || value > max {
		if cm.logger != nil {
			cm.logger.Warn("config value out of range, using default",
				ZapString("key", key),
				ZapInt("value", value),
				ZapInt("min", min),
				ZapInt("max", max),
				ZapInt("default", defaultValue))
		}
		return defaultValue
	}
	return value
}

// GetUint64 returns an unsigned 64-bit integer
func (cm *ConfigManager) GetUint64(key string, defaultValue uint64) uint64 {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		cm.logInvalid(key, err)
		return defaultValue
	}
	return parsed
}

// GetBool returns a boolean configuration value
func (cm *ConfigManager) GetBool(key string, defaultValue bool) bool {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "t", "yes", "y", "on", "enabled":
		return true
	case "0", "false", "f", "no", "n", "off", "disabled":
		return false
	default:
		cm.logInvalid(key, fmt.Errorf("invalid boolean: %s", value))
		return defaultValue
	}
}

// GetDuration accepts Go duration syntax or a bare integer number of seconds.
func (cm *ConfigManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	cm.logInvalid(key, fmt.Errorf("invalid duration: %s", value))
	return defaultValue
}

// GetStringSlice returns a comma-separated list as a slice
func (cm *ConfigManager) GetStringSlice(key string, defaultValue []string) []string {
	value, ok := cm.lookup(key)
	if !ok {
		cm.logDefault(key, defaultValue)
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// GetMetrics returns access metrics
func (cm *ConfigManager) GetMetrics() map[string]uint64 {
	cm.accessMu.Lock()
	defer cm.accessMu.Unlock()
	result := make(map[string]uint64, len(cm.accessCount))
	for k, v := range cm.accessCount {
		result[k] = v
	}
	return result
}

func (cm *ConfigManager) logDefault(key string, defaultValue interface{}) {
	if cm.logger != nil {
		cm.logger.Debug("using default config value",
			ZapString("key", key),
			ZapAny("default", defaultValue))
	}
}

func (cm *ConfigManager) logInvalid(key string, err error) {
	if cm.logger != nil {
		cm.logger.Warn("invalid config value, using default",
			ZapString("key", key),
			ZapError(err))
	}
}

// envSource implements ConfigSource using environment variables
type envSource struct{}

func (e *envSource) Get(key string) (string, bool) {
	value := os.Getenv(key)
	return value, value != ""
}

// MapSource is a fixed in-memory ConfigSource, handy for tests and for
// embedding a node with fixed settings.
type MapSource struct {
	values map[string]string
}

func NewMapSource(values map[string]string) *MapSource {
	m := &MapSource{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MapSource) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}
