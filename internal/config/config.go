package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/OCAP2/trailmap/internal/source/redissource"
	"github.com/OCAP2/trailmap/internal/store"
	"github.com/OCAP2/trailmap/internal/telemetry"
	"github.com/OCAP2/trailmap/pkg/trailmap"
)

// FileName is the config file looked up in the config directory.
const FileName = "trailmap.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. TRAILMAP_MAP_REFRESH.
const EnvPrefix = "TRAILMAP"

// RedisConfig holds the live position hash settings.
type RedisConfig struct {
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Key      string `json:"key" mapstructure:"key"`
}

// StoreConfig selects the recording database.
type StoreConfig struct {
	// Type is "sqlite" or "postgres".
	Type       string `json:"type" mapstructure:"type"`
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`
}

// Load reads configuration from the JSON file in configDir and sets default
// values. A missing file is not an error; defaults and environment apply.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers every known key with its default.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "trailmap")
	viper.SetDefault("influx.bucket", "trailmap")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.sqlitePath", "trailmap.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "trailmap")

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key", redissource.DefaultKey)

	viper.SetDefault("map.replay", false)
	viper.SetDefault("map.refresh", 0)
	viper.SetDefault("map.trail", false)
	viper.SetDefault("map.defaultIcon", "")
	viper.SetDefault("map.style", "")
	viper.SetDefault("map.controls", false)
	viper.SetDefault("map.replayDelay", "100ms")
	viper.SetDefault("map.tooltips.html", false)
}

// MapOptions assembles and validates map options from the "map" section.
func MapOptions() (trailmap.Options, error) {
	trail, err := trailmap.ParseTrail(viper.Get("map.trail"))
	if err != nil {
		return trailmap.Options{}, err
	}

	opts := trailmap.Options{
		Replay:      viper.GetBool("map.replay"),
		Refresh:     viper.GetFloat64("map.refresh"),
		Trail:       trail,
		DefaultIcon: viper.GetString("map.defaultIcon"),
		Style:       viper.GetString("map.style"),
		Controls:    viper.GetBool("map.controls"),
		ReplayDelay: viper.GetDuration("map.replayDelay"),
		Tooltips: trailmap.Tooltips{
			HTML: viper.GetBool("map.tooltips.html"),
		},
	}
	if viper.IsSet("map.tooltips.hover") {
		hover := viper.GetBool("map.tooltips.hover")
		opts.Tooltips.Hover = &hover
	}
	if viper.IsSet("map.center") {
		center, err := cast.ToFloat64SliceE(viper.Get("map.center"))
		if err != nil {
			return trailmap.Options{}, fmt.Errorf("map.center: %w", err)
		}
		opts.Center = center
	}
	if viper.IsSet("map.zoom") {
		zoom, err := cast.ToFloat64E(viper.Get("map.zoom"))
		if err != nil {
			return trailmap.Options{}, fmt.Errorf("map.zoom: %w", err)
		}
		opts.Zoom = &zoom
	}

	if err := opts.Validate(); err != nil {
		return trailmap.Options{}, err
	}
	return opts, nil
}

// Postgres returns the connection settings from the "db" section.
func Postgres() store.PostgresConfig {
	return store.PostgresConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// Store returns the recording database selection.
func Store() StoreConfig {
	return StoreConfig{
		Type:       viper.GetString("store.type"),
		SQLitePath: viper.GetString("store.sqlitePath"),
	}
}

// Influx returns the telemetry sink settings.
func Influx() telemetry.Config {
	return telemetry.Config{
		Enabled:    viper.GetBool("influx.enabled"),
		Protocol:   viper.GetString("influx.protocol"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// Redis returns the live position hash settings.
func Redis() RedisConfig {
	return RedisConfig{
		Address:  viper.GetString("redis.address"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		Key:      viper.GetString("redis.key"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
