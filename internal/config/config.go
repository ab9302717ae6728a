package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/util"
)

var log = logging.Logger("config")

// FileName is the config file kept in the app directory.
const FileName = "lens.json"

// Environment overrides.
const (
	EnvDebug     = "LENS_DEBUG"
	EnvInspector = "LENS_INSPECTOR"
)

type Config struct {
	App     App     `json:"app"`
	Host    Host    `json:"host"`
	Tasks   Tasks   `json:"tasks"`
	Server  Server  `json:"server"`
	Storage Storage `json:"storage"`
	Scripts Scripts `json:"scripts"`
	Log     Log     `json:"log"`
}

type App struct {
	Name           string `json:"name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	StartMaximized bool   `json:"start_maximized"`

	// Opens the web inspector on startup (desktop only).
	Inspector bool `json:"inspector"`
}

type Host struct {
	// Reported to the page instead of the OS hostname when set.
	Hostname string `json:"hostname"`
}

type Tasks struct {
	MaxConcurrent int `json:"max_concurrent"`
	Steps         int `json:"steps"`
	StepMillis    int `json:"step_millis"`
}

// StepInterval is the delay between two progress reports of a long task.
func (t Tasks) StepInterval() time.Duration {
	return time.Duration(t.StepMillis) * time.Millisecond
}

type Server struct {
	// Address for `lens serve`. Empty disables the HTTP surface of the desktop app.
	HTTPAddr string `json:"http_addr"`
}

type Storage struct {
	Dir string `json:"dir"`
}

type Scripts struct {
	Enabled        bool   `json:"enabled"`
	Dir            string `json:"dir"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s Scripts) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type Log struct {
	Level       string `json:"level"`
	BufferLines int    `json:"buffer_lines"`
}

func Default() Config {
	return Config{
		App: App{
			Name:   "Lens",
			Width:  640,
			Height: 480,
		},
		Tasks: Tasks{
			MaxConcurrent: 5,
			Steps:         10,
			StepMillis:    500,
		},
		Server: Server{
			HTTPAddr: "127.0.0.1:8720",
		},
		Storage: Storage{
			Dir: "data",
		},
		Scripts: Scripts{
			Enabled:        true,
			Dir:            "scripts",
			TimeoutSeconds: 5,
		},
		Log: Log{
			Level:       "info",
			BufferLines: 1000,
		},
	}
}

func (c *Config) Validate() error {
	// App
	if strings.TrimSpace(c.App.Name) == "" {
		return errors.New("app.name is required")
	}
	if c.App.Width <= 0 || c.App.Height <= 0 {
		return errors.New("app.width and app.height must be > 0")
	}

	// Tasks
	if c.Tasks.MaxConcurrent < 1 || c.Tasks.MaxConcurrent > 64 {
		return errors.New("tasks.max_concurrent must be 1..64")
	}
	if c.Tasks.Steps <= 0 {
		return errors.New("tasks.steps must be > 0")
	}
	if c.Tasks.StepMillis < 0 {
		return errors.New("tasks.step_millis must be >= 0")
	}

	// Server
	if addr := strings.TrimSpace(c.Server.HTTPAddr); addr != "" {
		if _, port, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("server.http_addr: %w", err)
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			return errors.New("server.http_addr port must be 0..65535")
		}
	}

	// Storage
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir is required")
	}

	// Scripts
	if c.Scripts.Enabled && strings.TrimSpace(c.Scripts.Dir) == "" {
		return errors.New("scripts.dir is required when scripts are enabled")
	}
	if c.Scripts.TimeoutSeconds <= 0 {
		return errors.New("scripts.timeout_seconds must be > 0")
	}

	// Log
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.BufferLines < 0 {
		return errors.New("log.buffer_lines must be >= 0")
	}

	return nil
}

// ApplyEnv applies environment overrides on top of a loaded config.
func ApplyEnv(c *Config) {
	if envBool(EnvDebug) {
		c.Log.Level = "debug"
	}
	if envBool(EnvInspector) {
		c.App.Inspector = true
	}
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file without validation, for callers that only
// need a field or two.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// Update loads the file, applies fn and saves the result.
func Update(path string, fn func(*Config)) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	fn(&cfg)
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
