package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "citymap.cfg.json"

// Overlay names shared by the registry, the config file and the browser toggles.
const (
	OverlayAirQuality = "airQuality"
	OverlayParking    = "publicParking"
	OverlayTransit    = "publicTransportation"
	OverlayWaste      = "wasteCollection"
	OverlayTraffic    = "trafficLayer"
)

// ServerConfig holds HTTP and websocket listener settings
type ServerConfig struct {
	Listen       string `json:"listen" mapstructure:"listen"`
	StaticDir    string `json:"staticDir" mapstructure:"staticDir"`
	MapLoaderURL string `json:"mapLoaderUrl" mapstructure:"mapLoaderUrl"`
	ClientBuffer int    `json:"clientBuffer" mapstructure:"clientBuffer"`
}

// APIConfig holds the open-data proxy settings
type APIConfig struct {
	URL       string        `json:"url" mapstructure:"url"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	RoutesURL string        `json:"routesUrl" mapstructure:"routesUrl"`
}

// OverlayConfig holds per-overlay polling settings
type OverlayConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	Resource       string        `json:"resource" mapstructure:"resource"`
	IdleInterval   time.Duration `json:"idleInterval" mapstructure:"idleInterval"`
	ActiveInterval time.Duration `json:"activeInterval" mapstructure:"activeInterval"`
}

// RetryConfig bounds the show retry loop while an overlay has no data
type RetryConfig struct {
	Backoff     time.Duration `json:"backoff" mapstructure:"backoff"`
	MaxBackoff  time.Duration `json:"maxBackoff" mapstructure:"maxBackoff"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"maxAttempts"`
}

// LocateConfig holds geolocation settings
type LocateConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Center  []float64     `json:"center" mapstructure:"center"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	HistoryLimit   int    `json:"historyLimit" mapstructure:"historyLimit"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// RemoteConfig holds the history collector settings for the websocket backend
type RemoteConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
	Source string `json:"source" mapstructure:"source"`
}

// StorageConfig selects the history recorder backend
type StorageConfig struct {
	Type          string        `json:"type" mapstructure:"type"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	Memory        MemoryConfig  `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig  `json:"sqlite" mapstructure:"sqlite"`
	Remote        RemoteConfig  `json:"remote" mapstructure:"remote"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds GELF sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// MonitorConfig holds status reporting settings
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// DisplayConfig controls how times and places are rendered in popups
type DisplayConfig struct {
	Timezone string `json:"timezone" mapstructure:"timezone"`
	City     string `json:"city" mapstructure:"city"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("CITYMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./citymaplogs")

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.staticDir", "./public")
	viper.SetDefault("server.mapLoaderUrl", "")
	viper.SetDefault("server.clientBuffer", 256)

	viper.SetDefault("api.url", "")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.routesUrl", "https://iasidigital.idealweb.ro/data/publicTransportation/routes.json")

	overlay := func(name, resource, idle, active string) {
		viper.SetDefault("overlays."+name+".enabled", true)
		viper.SetDefault("overlays."+name+".resource", resource)
		viper.SetDefault("overlays."+name+".idleInterval", idle)
		viper.SetDefault("overlays."+name+".activeInterval", active)
	}
	overlay(OverlayAirQuality, "cf3f-2309-44d1-8e0c-1137", "5m", "1m")
	overlay(OverlayParking, "64dc-92f1-4b56-9071-1313/22d1082403b780c66b2687f43de783a10c16", "5m", "3m")
	overlay(OverlayTransit, "dc2a-cd0a-477f-95f3-1107", "60s", "30s")
	overlay(OverlayWaste, "544f-2a7a-490a-ac5c-0f79", "60s", "30s")
	viper.SetDefault("overlays."+OverlayTraffic+".enabled", true)

	viper.SetDefault("transit.tripsResource", "dc2a-cd0a-477f-95f3-1107/52cf25d5c64d1f700b8867cee05112525698")
	viper.SetDefault("transit.tripsInterval", "2m")

	viper.SetDefault("retry.backoff", "1s")
	viper.SetDefault("retry.maxBackoff", "30s")
	viper.SetDefault("retry.maxAttempts", 10)

	viper.SetDefault("locate.timeout", "5s")
	viper.SetDefault("locate.center", []float64{47.1553424, 27.585645})

	viper.SetDefault("display.timezone", "Europe/Bucharest")
	viper.SetDefault("display.city", "Iasi")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "5s")
	viper.SetDefault("storage.memory.outputDir", "./history")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.historyLimit", 100)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./history/citymap.db")
	viper.SetDefault("storage.remote.url", "")
	viper.SetDefault("storage.remote.secret", "")
	viper.SetDefault("storage.remote.source", "citymap")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "citymap")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "citymap")
	viper.SetDefault("influx.bucket", "overlays")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "citymap")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", "1m")
	viper.SetDefault("monitor.statusFile", "status.json")

	for key, value := range defaultLabels {
		viper.SetDefault("labels."+key, value)
	}
	for key, value := range defaultMessages {
		viper.SetDefault("messages."+key, value)
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// unmarshal decodes a config section. The section is taken from the merged
// settings so keys missing from the file keep their defaults. A section that
// fails to decode is logged and returned partially filled.
func unmarshal[T any](key string) T {
	cfg, err := decodeSection[T](key)
	if err != nil {
		slog.Warn("Invalid config section, using defaults for bad keys", "section", key, "error", err)
	}
	return cfg
}

func decodeSection[T any](key string) (T, error) {
	var cfg T
	section := viper.AllSettings()
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		next, ok := section[part].(map[string]any)
		if !ok {
			return cfg, nil
		}
		section = next
	}

	sub := viper.New()
	if err := sub.MergeConfigMap(section); err != nil {
		return cfg, fmt.Errorf("merge %s: %w", key, err)
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", key, err)
	}
	return cfg, nil
}

// GetServerConfig returns the listener settings.
func GetServerConfig() ServerConfig { return unmarshal[ServerConfig]("server") }

// GetAPIConfig returns the open-data proxy settings.
func GetAPIConfig() APIConfig { return unmarshal[APIConfig]("api") }

// GetOverlayConfig returns the polling settings of the named overlay.
func GetOverlayConfig(name string) OverlayConfig { return unmarshal[OverlayConfig]("overlays." + name) }

// GetRetryConfig returns the show retry bounds.
func GetRetryConfig() RetryConfig { return unmarshal[RetryConfig]("retry") }

// GetLocateConfig returns the geolocation settings.
func GetLocateConfig() LocateConfig { return unmarshal[LocateConfig]("locate") }

// GetStorageConfig returns the history recorder settings.
func GetStorageConfig() StorageConfig { return unmarshal[StorageConfig]("storage") }

// GetPostgresConfig returns the PostgreSQL connection settings.
func GetPostgresConfig() PostgresConfig { return unmarshal[PostgresConfig]("db") }

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig { return unmarshal[InfluxConfig]("influx") }

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig { return unmarshal[GraylogConfig]("graylog") }

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig { return unmarshal[OTelConfig]("otel") }

// GetMonitorConfig returns the status reporting settings.
func GetMonitorConfig() MonitorConfig { return unmarshal[MonitorConfig]("monitor") }

// GetDisplayConfig returns the popup rendering settings.
func GetDisplayConfig() DisplayConfig { return unmarshal[DisplayConfig]("display") }
