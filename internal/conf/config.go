// config.go: settings struct and loading for the trayvision application.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig contains settings for application logging.
type LogConfig struct {
	Enabled bool   // true to enable file logging
	Path    string // path to log file
}

// MainSettings contains top level application settings.
type MainSettings struct {
	Name string    // name of this node, used in logs and MQTT topics
	Log  LogConfig // logging settings
}

// RecognitionSettings contains the decision-policy thresholds for tray
// recognition. All values are deployment-tunable, none are hard coded in the
// engine.
type RecognitionSettings struct {
	UnknownDistanceThreshold float64 // best-match distance above which an instance is UNKNOWN
	MarginThreshold          float64 // top-2 distance margin below which an instance is REVIEW
	TopK                     int     // number of nearest neighbours returned per query
	OverlapBlockThreshold    float64 // frame overlap score at or above which the decision is forced to REVIEW
	DetectorConfidence       float64 // minimum object detector confidence for an instance
	MockMode                 bool    // true to run with mock detector/encoder capabilities
}

// SessionSettings controls tray session lifecycle.
type SessionSettings struct {
	AttemptLimit int           // maximum recognition attempts per session
	Timeout      time.Duration // session expires this long after it started
}

// ReportSettings controls best-effort forwarding of completed results to an
// external audit endpoint.
type ReportSettings struct {
	Enabled bool
	URL     string        // audit endpoint URL
	Timeout time.Duration // bounded timeout for the fire-and-forget send
}

// WorkerSettings controls the recognition worker loop.
type WorkerSettings struct {
	ID           string         // worker identity recorded on claimed jobs, generated if empty
	PollInterval time.Duration  // sleep between empty claims
	Report       ReportSettings // result reporting settings
}

// DetectorSettings is the per-detector debounce configuration.
type DetectorSettings struct {
	Enabled              bool
	MinConsecutiveFrames int           // consecutive positive frames required to confirm
	Cooldown             time.Duration // minimum gap between confirmations
	Threshold            float64       // detector specific signal threshold
}

// CCTVSettings controls the event detector pipeline.
type CCTVSettings struct {
	FPS               int // frame rate assumed for clip window math
	ClipHalfWindowSec int // seconds of footage kept on each side of a confirmation
	Fall              DetectorSettings
	Violence          DetectorSettings
	MobilityAid       DetectorSettings
}

// SQLiteSettings contains settings for the SQLite datastore.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL datastore.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects and configures the datastore backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings contains settings for publishing confirmed CCTV events.
type MQTTSettings struct {
	Enabled        bool
	Broker         string // broker URL, e.g. tcp://localhost:1883
	Topic          string // topic confirmed events are published to
	Username       string
	Password       string
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// NotificationSettings contains settings for push alerts on confirmed events.
type NotificationSettings struct {
	Enabled bool
	URLs    []string // shoutrrr service URLs
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled  bool
	Port     string
	AdminKey string // shared key required on admin endpoints, empty disables the check
	Debug    bool
}

// MetricsSettings controls the Prometheus metrics endpoint.
type MetricsSettings struct {
	Enabled bool
}

// Settings is the root configuration struct.
type Settings struct {
	Debug bool // true to enable debug logging

	Main         MainSettings
	Recognition  RecognitionSettings
	Session      SessionSettings
	Worker       WorkerSettings
	CCTV         CCTVSettings
	Output       OutputSettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	WebServer    WebServerSettings
	Metrics      MetricsSettings
}

// settingsMutex serializes Load against the shared viper state.
var settingsMutex sync.Mutex

// Load reads the configuration file and environment variables into a
// Settings struct and validates it.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("trayvision")
	viper.AutomaticEnv()

	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the default configuration to the first default
// config path so a fresh install has a file to edit.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	settings := viper.AllSettings()
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("error writing default config: %w", err)
	}

	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the list of directories searched for
// config.yaml, in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fall back to working directory only
		return []string{"."}, nil //nolint:nilerr // intentional fallback
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "trayvision"),
		"/etc/trayvision",
	}, nil
}
