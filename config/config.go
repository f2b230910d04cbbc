package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	cmdDir    = "cmd"
	configDir = "configs"
)

// Config binds every address, timeout and interval the fleet's components
// need.
type Config struct {
	ServerInstanceID string `mapstructure:"SERVER_INSTANCE_ID"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MySQLDSN string `mapstructure:"MYSQL_DSN"`

	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	AuthToken      string `mapstructure:"AUTH_TOKEN"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	StoreCallTimeout       time.Duration `mapstructure:"STORE_CALL_TIMEOUT"`
	CompletionMutexTTL     time.Duration `mapstructure:"COMPLETION_MUTEX_TTL"`
	OnlineUsersTTL         time.Duration `mapstructure:"ONLINE_USERS_TTL"`
	ServerUsersTTL         time.Duration `mapstructure:"SERVER_USERS_TTL"`
	ConnectedServerTTL     time.Duration `mapstructure:"CONNECTED_SERVER_TTL"`
	SessionTTL             time.Duration `mapstructure:"SESSION_TTL"`
	EventLogTTL            time.Duration `mapstructure:"EVENT_LOG_TTL"`
	TimerRetention         time.Duration `mapstructure:"TIMER_RETENTION"`
	MonitorPollInterval    time.Duration `mapstructure:"MONITOR_POLL_INTERVAL"`
	MonitorWindow          time.Duration `mapstructure:"MONITOR_WINDOW"`
	RetentionSweepInterval time.Duration `mapstructure:"RETENTION_SWEEP_INTERVAL"`
}

// Default returns a Config populated with the interval/TTL defaults named
// throughout the data model. Read layers environment/YAML overrides on top.
func Default() *Config {
	return &Config{
		RedisAddr: "localhost:6379",
		RedisDB:   0,
		MySQLDSN:  "root:pass@tcp(127.0.0.1:3306)/timerfleet?parseTime=true",
		HTTPAddr:  ":8080",

		StoreCallTimeout:       5 * time.Second,
		CompletionMutexTTL:     5 * time.Minute,
		OnlineUsersTTL:         30 * time.Minute,
		ServerUsersTTL:         45 * time.Minute,
		ConnectedServerTTL:     60 * time.Minute,
		SessionTTL:             120 * time.Minute,
		EventLogTTL:            365 * 24 * time.Hour,
		TimerRetention:         30 * 24 * time.Hour,
		MonitorPollInterval:    time.Minute,
		MonitorWindow:          5 * time.Minute,
		RetentionSweepInterval: time.Hour,
	}
}

// Read populates cfg from environment variables, layering a YAML file
// (named after AppEnv(), found by walking up from the caller to a "cmd"
// directory and back down into "configs") on top when present.
func Read(cfg *Config) error {
	return ReadWithConfigDirPath(cfg, getConfigDirPath(2))
}

// ReadWithConfigDirPath is Read with an explicit config directory, useful
// for tests that don't live under a cmd/ tree.
func ReadWithConfigDirPath(cfg *Config, cfgDirPath string) error {
	v := viper.New()
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	v.SetConfigName(AppEnv())
	v.SetConfigType("yaml")
	v.AddConfigPath(cfgDirPath)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return errors.Errorf("read cfg error: %w", err)
		}
		logrus.WithField("app_env", AppEnv()).Debug("no yaml config file found, using env/defaults only")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return errors.Errorf("parse cfg error: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"server_instance_id": cfg.ServerInstanceID,
		"redis_addr":         cfg.RedisAddr,
		"http_addr":          cfg.HTTPAddr,
	}).Info("configuration loaded")

	return nil
}

// bindDefaults seeds viper with cfg's current (zero or Default()) values so
// that Unmarshal never overwrites an explicitly-set field with a zero value
// when neither env nor YAML mention it.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("SERVER_INSTANCE_ID", cfg.ServerInstanceID)
	v.SetDefault("REDIS_ADDR", cfg.RedisAddr)
	v.SetDefault("REDIS_PASSWORD", cfg.RedisPassword)
	v.SetDefault("REDIS_DB", cfg.RedisDB)
	v.SetDefault("MYSQL_DSN", cfg.MySQLDSN)
	v.SetDefault("HTTP_ADDR", cfg.HTTPAddr)
	v.SetDefault("AUTH_TOKEN", cfg.AuthToken)
	v.SetDefault("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	v.SetDefault("STORE_CALL_TIMEOUT", cfg.StoreCallTimeout)
	v.SetDefault("COMPLETION_MUTEX_TTL", cfg.CompletionMutexTTL)
	v.SetDefault("ONLINE_USERS_TTL", cfg.OnlineUsersTTL)
	v.SetDefault("SERVER_USERS_TTL", cfg.ServerUsersTTL)
	v.SetDefault("CONNECTED_SERVER_TTL", cfg.ConnectedServerTTL)
	v.SetDefault("SESSION_TTL", cfg.SessionTTL)
	v.SetDefault("EVENT_LOG_TTL", cfg.EventLogTTL)
	v.SetDefault("TIMER_RETENTION", cfg.TimerRetention)
	v.SetDefault("MONITOR_POLL_INTERVAL", cfg.MonitorPollInterval)
	v.SetDefault("MONITOR_WINDOW", cfg.MonitorWindow)
	v.SetDefault("RETENTION_SWEEP_INTERVAL", cfg.RetentionSweepInterval)
}

// getConfigDirPath walks up the call stack to find a "cmd" path segment and
// resolves "configs" alongside it, matching the teacher's layout for
// locating YAML files relative to a cmd/<service> entrypoint.
func getConfigDirPath(skip int) string {
	_, file, _, _ := runtime.Caller(skip)
	dirList := strings.Split(filepath.ToSlash(filepath.Dir(file)), "/")
	dirPath := "./"

	for i, dir := range dirList {
		if dir == cmdDir {
			dirPath = filepath.Join(configDir, filepath.Join(dirList[i+1:]...))
			break
		}
	}
	return dirPath
}
