package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Pin backends.
const (
	PinsPinctrl = "pinctrl"
	PinsSim     = "sim"
)

// Lines maps the node's IOs and controls onto BCM GPIO lines.
type Lines struct {
	IO     []*int `yaml:"io"`
	Switch *int   `yaml:"switch"`
	Green  *int   `yaml:"green_led"`
	Yellow *int   `yaml:"yellow_led"`
}

type Config struct {
	ConfigFile     string        `yaml:"-"`
	LogLevel       zerolog.Level `yaml:"-"`
	InstallService bool          `yaml:"-"`

	LogFile  string `yaml:"log_file"`
	Store    string `yaml:"store"`
	SafeMode bool   `yaml:"safe_mode"`

	// Transport is socket://host:port or a serial device. Empty runs the
	// node on an in-process loopback bus.
	Transport string `yaml:"transport"`
	Baud      int    `yaml:"baud"`

	Pins  string `yaml:"pins"`
	Lines Lines  `yaml:"lines"`

	TickMillis int    `yaml:"tick_ms"`
	APIPort    int    `yaml:"api_port"`
	Name       string `yaml:"module_name"`

	ServiceUser string `yaml:"service_user"`
	ServiceUnit string `yaml:"service_unit"`

	EnableDatadog bool     `yaml:"enable_datadog"`
	DDAgentAddr   string   `yaml:"dd_agent_addr"`
	DDNamespace   string   `yaml:"dd_namespace"`
	DDTags        []string `yaml:"dd_tags"`

	// NtfyTopic enables fault notifications through ntfy.
	NtfyTopic  string `yaml:"ntfy_topic"`
	NtfyServer string `yaml:"ntfy_server"`
}

func Load() Config {
	var cfg Config
	var logLevel, store string
	var safeMode bool

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.yaml", "Path to node config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&store, "store", "", "Path to the sqlite store, overrides the config file")
	flag.BoolVar(&safeMode, "safe-mode", false, "Never drive GPIO lines")
	flag.BoolVar(&cfg.InstallService, "install-service", false, "Write the systemd unit and exit")
	flag.Parse()

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := decode(file, &cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.LogLevel = parseLogLevel(logLevel)
	if store != "" {
		cfg.Store = store
	}
	cfg.SafeMode = cfg.SafeMode || safeMode

	cfg.validate()
	return cfg
}

func decode(r io.Reader, cfg *Config) error {
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	cfg.setDefaults()
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.Store == "" {
		cfg.Store = "data/cbus-node.db"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.Pins == "" {
		cfg.Pins = PinsSim
	}
	if cfg.TickMillis == 0 {
		cfg.TickMillis = 1
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.ServiceUser == "" {
		cfg.ServiceUser = "root"
	}
	if cfg.ServiceUnit == "" {
		cfg.ServiceUnit = "/etc/systemd/system/cbus-node.service"
	}
	if cfg.NtfyServer == "" {
		cfg.NtfyServer = "https://ntfy.sh"
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	if cfg.Pins != PinsPinctrl && cfg.Pins != PinsSim {
		panic(fmt.Sprintf("Unknown pin backend %q", cfg.Pins))
	}
	if cfg.Pins == PinsSim {
		return
	}

	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
	)

	fields := map[string]*int{
		"lines.switch":     cfg.Lines.Switch,
		"lines.green_led":  cfg.Lines.Green,
		"lines.yellow_led": cfg.Lines.Yellow,
	}
	for i := 0; i < 16; i++ {
		var line *int
		if i < len(cfg.Lines.IO) {
			line = cfg.Lines.IO[i]
		}
		fields[fmt.Sprintf("lines.io[%d]", i)] = line
	}

	for _, name := range sortedKeys(fields) {
		line := fields[name]
		if line == nil {
			missingFields = append(missingFields, name)
			continue
		}
		if other, exists := usedPins[*line]; exists {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s both use line %d", name, other, *line))
		} else {
			usedPins[*line] = name
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required GPIO config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO lines: " + strings.Join(conflicts, ", "))
	}
}

func sortedKeys(m map[string]*int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
