package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPS         GPSConfig         `yaml:"gps"`
	Timing      TimingConfig      `yaml:"timing"`
	Checkpoints CheckpointsConfig `yaml:"checkpoints"`
	Web         WebConfig         `yaml:"web"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	UDP         UDPConfig         `yaml:"udp"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	WiFi        WiFiConfig        `yaml:"wifi"`
	Captive     CaptiveConfig     `yaml:"captive"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Source string `yaml:"source"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Path and ReplayInterval apply to source "file".
	Path           string        `yaml:"path"`
	ReplayInterval time.Duration `yaml:"replay_interval"`

	// Source "sim" drives a virtual car around the configured checkpoints.
	SimSpeedKmh float64       `yaml:"sim_speed_kmh"`
	SimRate     time.Duration `yaml:"sim_rate"`
}

type TimingConfig struct {
	ToleranceM float64 `yaml:"tolerance_m"`
	Reentry    string  `yaml:"reentry"`
}

// PointConfig is a checkpoint position in decimal degrees.
type PointConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// CheckpointsConfig holds the three timing lines. Nil means never calibrated.
type CheckpointsConfig struct {
	Start   *PointConfig `yaml:"start,omitempty"`
	Sector1 *PointConfig `yaml:"sector1,omitempty"`
	Sector2 *PointConfig `yaml:"sector2,omitempty"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type IndicatorConfig struct {
	Enable bool          `yaml:"enable"`
	Pin    int           `yaml:"pin"`
	Pulse  time.Duration `yaml:"pulse"`
}

type WiFiConfig struct {
	Enable     bool   `yaml:"enable"`
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	IP         string `yaml:"ip"`
}

type CaptiveConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
	IP     string `yaml:"ip"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and rejects invalid values.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "serial"
	}
	switch cfg.GPS.Source {
	case "serial":
		if cfg.GPS.Baud == 0 {
			cfg.GPS.Baud = 9600
		}
		if cfg.GPS.Baud < 0 {
			return fmt.Errorf("gps.baud must be > 0")
		}
	case "file":
		if cfg.GPS.Enable && strings.TrimSpace(cfg.GPS.Path) == "" {
			return fmt.Errorf("gps.path is required when gps.source is 'file'")
		}
		if cfg.GPS.ReplayInterval < 0 {
			return fmt.Errorf("gps.replay_interval must be >= 0")
		}
	case "sim":
		if cfg.GPS.SimSpeedKmh == 0 {
			cfg.GPS.SimSpeedKmh = 60
		}
		if cfg.GPS.SimSpeedKmh < 0 {
			return fmt.Errorf("gps.sim_speed_kmh must be > 0")
		}
		if cfg.GPS.SimRate == 0 {
			cfg.GPS.SimRate = 100 * time.Millisecond
		}
		if cfg.GPS.SimRate < 0 {
			return fmt.Errorf("gps.sim_rate must be > 0")
		}
	default:
		return fmt.Errorf("gps.source must be one of serial, file, sim")
	}

	if cfg.Timing.ToleranceM == 0 {
		cfg.Timing.ToleranceM = 10
	}
	if cfg.Timing.ToleranceM < 0 {
		return fmt.Errorf("timing.tolerance_m must be > 0")
	}
	cfg.Timing.Reentry = strings.ToLower(strings.TrimSpace(cfg.Timing.Reentry))
	switch cfg.Timing.Reentry {
	case "":
		cfg.Timing.Reentry = "ignore"
	case "ignore", "restart", "abort":
	default:
		return fmt.Errorf("timing.reentry must be one of ignore, restart, abort")
	}

	for name, p := range map[string]*PointConfig{
		"start":   cfg.Checkpoints.Start,
		"sector1": cfg.Checkpoints.Sector1,
		"sector2": cfg.Checkpoints.Sector2,
	} {
		if err := ValidatePoint(p); err != nil {
			return fmt.Errorf("checkpoints.%s: %w", name, err)
		}
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":80"
	}

	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "laptimer"
	}
	cfg.MQTT.Topic = strings.Trim(strings.TrimSpace(cfg.MQTT.Topic), "/")
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "laptimer"
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.Indicator.Enable && cfg.Indicator.Pin <= 0 {
		return fmt.Errorf("indicator.pin must be > 0 when indicator.enable is true")
	}
	if cfg.Indicator.Pulse <= 0 {
		cfg.Indicator.Pulse = 300 * time.Millisecond
	}

	if cfg.WiFi.SSID == "" {
		cfg.WiFi.SSID = "Lap Timer"
	}
	if hasControlChars(cfg.WiFi.SSID) {
		return fmt.Errorf("wifi.ssid must not contain control characters")
	}
	if hasControlChars(cfg.WiFi.Passphrase) {
		return fmt.Errorf("wifi.passphrase must not contain control characters")
	}
	if n := len(cfg.WiFi.Passphrase); n != 0 && (n < 8 || n > 63) {
		return fmt.Errorf("wifi.passphrase must be empty or 8..63 characters")
	}
	if cfg.WiFi.IP == "" {
		cfg.WiFi.IP = "192.168.4.1"
	}

	if cfg.Captive.Listen == "" {
		cfg.Captive.Listen = ":53"
	}
	if cfg.Captive.IP == "" {
		cfg.Captive.IP = strings.SplitN(cfg.WiFi.IP, "/", 2)[0]
	}
	if ip := net.ParseIP(cfg.Captive.IP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("captive.ip must be an IPv4 address")
	}

	return nil
}

// ValidatePoint checks that p, when set, is a finite position on Earth.
func ValidatePoint(p *PointConfig) error {
	if p == nil {
		return nil
	}
	if !(p.Lat >= -90 && p.Lat <= 90) {
		return fmt.Errorf("lat must be within [-90,90]")
	}
	if !(p.Lon >= -180 && p.Lon <= 180) {
		return fmt.Errorf("lon must be within [-180,180]")
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Save validates cfg and writes it atomically: a temp file in the same
// directory is renamed over path.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
