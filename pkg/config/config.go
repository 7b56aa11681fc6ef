package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Hardware backends understood by the hardware manager.
const (
	BackendMock   = "mock"
	BackendSim    = "sim"
	BackendPeriph = "periph"
)

// ErrUnknownBackend is returned by Validate for an unsupported hardware backend.
var ErrUnknownBackend = errors.New("unknown hardware backend")

// Config represents the radiopanel configuration
type Config struct {
	Panel    PanelConfig    `yaml:"panel"`
	Stations StationsConfig `yaml:"stations"`
	Hardware HardwareConfig `yaml:"hardware"`
	Serial   SerialConfig   `yaml:"serial"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Web      WebConfig      `yaml:"web"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PanelConfig describes the front panel harness: which channels and pins
// carry which signal and the fixed thresholds used to interpret them.
type PanelConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Ladder       LadderConfig  `yaml:"ladder"`
	Tuning       TuningConfig  `yaml:"tuning"`
	PlayPin      int           `yaml:"play_pin"`
	AttentionPin int           `yaml:"attention_pin"`
	RequestPin   int           `yaml:"request_pin"`
}

// LadderConfig holds the resistor ladder voltage gates in volts.
type LadderConfig struct {
	Channel   int       `yaml:"channel"`
	Floor     float32   `yaml:"floor"`     // below this no button is pressed
	Gates     []float32 `yaml:"gates"`     // ascending upper bounds, farthest rung first
	Threshold float32   `yaml:"threshold"` // minimum voltage delta treated as a change
}

// TuningConfig holds the RC charge timing parameters.
type TuningConfig struct {
	Channel         int           `yaml:"channel"`
	ChargePin       int           `yaml:"charge_pin"`
	DischargePin    int           `yaml:"discharge_pin"`
	TriggerLevel    uint16        `yaml:"trigger_level"`    // raw ADC count, ~63% of full scale
	ParasiticMicros int64         `yaml:"parasitic_micros"` // charge time of the bare wiring
	Timeout         time.Duration `yaml:"timeout"`
	Settle          time.Duration `yaml:"settle"`
}

// StationsConfig is the charge time to station code table.
type StationsConfig struct {
	Thresholds []int64 `yaml:"thresholds"`
	Codes      []int   `yaml:"codes"`
	Fallback   int     `yaml:"fallback"`
}

// HardwareConfig selects and parameterizes the hardware backend.
type HardwareConfig struct {
	Backend           string    `yaml:"backend"`
	Vref              float32   `yaml:"vref"`
	ADCBits           int       `yaml:"adc_bits"`
	I2CBus            string    `yaml:"i2c_bus"`
	ADCAddress        uint16    `yaml:"adc_address"`
	PinPrefix         string    `yaml:"pin_prefix"`
	CapacitorSensePin int       `yaml:"capacitor_sense_pin"`
	Sim               SimConfig `yaml:"sim"`
}

// SimConfig holds the initial state of the simulated front panel.
type SimConfig struct {
	LadderVoltage  float32 `yaml:"ladder_voltage"`
	CapacitancePF  float32 `yaml:"capacitance_pf"`
	ResistanceMOhm float32 `yaml:"resistance_mohm"`
	Playing        bool    `yaml:"playing"`
}

// SerialConfig describes the link to the host unit.
type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
}

// ProtocolConfig tunes the message framing.
type ProtocolConfig struct {
	TaggedSnapshot bool          `yaml:"tagged_snapshot"`
	Settle         time.Duration `yaml:"settle"`
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
}

// APIConfig configures the control socket.
type APIConfig struct {
	UnixSocket string `yaml:"unix_socket"`
}

// StorageConfig configures the transition journal.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxEvents    int    `yaml:"max_events"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	Structured bool   `yaml:"structured"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // files
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration matching the reference harness.
func Default() *Config {
	return &Config{
		Panel: PanelConfig{
			PollInterval: 200 * time.Millisecond,
			Ladder: LadderConfig{
				Channel: 0,
				Floor:   1.5,
				// Midpoints between the nominal rung voltages 1.65, 2.2, 2.7, 3.0 and 3.2 V.
				Gates:     []float32{1.925, 2.45, 2.85, 3.1},
				Threshold: 0.1,
			},
			Tuning: TuningConfig{
				Channel:         1,
				ChargePin:       16,
				DischargePin:    17,
				TriggerLevel:    2500,
				ParasiticMicros: 50,
				Timeout:         50 * time.Millisecond,
				Settle:          300 * time.Millisecond,
			},
			PlayPin:      15,
			AttentionPin: 14,
			RequestPin:   13,
		},
		Stations: StationsConfig{
			Thresholds: []int64{32, 43, 60, 78, 95, 120, 155, 190, 230, 270, 315, 360, 400, 450, 500, 560, 610, 690},
			Codes:      []int{105, 104, 103, 102, 101, 100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88},
			Fallback:   87,
		},
		Hardware: HardwareConfig{
			Backend:           BackendSim,
			Vref:              3.3,
			ADCBits:           12,
			I2CBus:            "",
			ADCAddress:        0x48,
			PinPrefix:         "GPIO",
			CapacitorSensePin: 27,
			Sim: SimConfig{
				LadderVoltage:  0,
				CapacitancePF:  100,
				ResistanceMOhm: 1,
			},
		},
		Serial: SerialConfig{
			Device:   "",
			BaudRate: 115200,
		},
		Protocol: ProtocolConfig{
			TaggedSnapshot: false,
			Settle:         10 * time.Millisecond,
		},
		Web: WebConfig{
			Enabled:     true,
			Port:        8080,
			BindAddress: "127.0.0.1",
		},
		API: APIConfig{
			UnixSocket: "/tmp/radiopanel.sock",
		},
		Storage: StorageConfig{
			DatabasePath: ":memory:",
			MaxEvents:    10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of Default.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Hardware.Backend {
	case BackendMock, BackendSim:
	case BackendPeriph:
		if c.Serial.Device == "" {
			return fmt.Errorf("serial device is required for the %s backend", BackendPeriph)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Hardware.Backend)
	}

	if c.Panel.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Hardware.Vref <= 0 {
		return fmt.Errorf("vref must be positive")
	}
	if c.Hardware.ADCBits < 8 || c.Hardware.ADCBits > 16 {
		return fmt.Errorf("adc bits must be between 8 and 16, got %d", c.Hardware.ADCBits)
	}

	ladder := c.Panel.Ladder
	if ladder.Threshold <= 0 {
		return fmt.Errorf("ladder threshold must be positive")
	}
	if len(ladder.Gates) == 0 {
		return fmt.Errorf("ladder needs at least one gate")
	}
	prev := ladder.Floor
	for i, g := range ladder.Gates {
		if g <= prev {
			return fmt.Errorf("ladder gate %d (%.3f V) must be above %.3f V", i, g, prev)
		}
		prev = g
	}

	tuning := c.Panel.Tuning
	if tuning.TriggerLevel == 0 || int(tuning.TriggerLevel) >= 1<<c.Hardware.ADCBits {
		return fmt.Errorf("trigger level %d out of range for a %d-bit ADC", tuning.TriggerLevel, c.Hardware.ADCBits)
	}
	if tuning.Timeout <= 0 {
		return fmt.Errorf("tuning timeout must be positive")
	}
	if tuning.Settle < 0 {
		return fmt.Errorf("tuning settle must not be negative")
	}
	if tuning.ParasiticMicros < 0 {
		return fmt.Errorf("parasitic offset must not be negative")
	}

	if len(c.Stations.Thresholds) == 0 || len(c.Stations.Thresholds) != len(c.Stations.Codes) {
		return fmt.Errorf("station table needs matching thresholds and codes (%d vs %d)",
			len(c.Stations.Thresholds), len(c.Stations.Codes))
	}
	for i := 1; i < len(c.Stations.Thresholds); i++ {
		if c.Stations.Thresholds[i] <= c.Stations.Thresholds[i-1] {
			return fmt.Errorf("station thresholds must be strictly ascending at index %d", i)
		}
	}

	if ladder.Channel == tuning.Channel {
		return fmt.Errorf("ladder and tuning share ADC channel %d", ladder.Channel)
	}

	lines := map[string]int{
		"charge_pin":    tuning.ChargePin,
		"discharge_pin": tuning.DischargePin,
		"play_pin":      c.Panel.PlayPin,
		"attention_pin": c.Panel.AttentionPin,
		"request_pin":   c.Panel.RequestPin,
	}
	if c.Hardware.CapacitorSensePin >= 0 {
		lines["capacitor_sense_pin"] = c.Hardware.CapacitorSensePin
	}
	pins := map[int]string{}
	for name, pin := range lines {
		if other, dup := pins[pin]; dup {
			return fmt.Errorf("%s and %s share pin %d", name, other, pin)
		}
		pins[pin] = name
	}

	if c.Protocol.Settle < 0 {
		return fmt.Errorf("protocol settle must not be negative")
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	if c.Storage.MaxEvents < 0 {
		return fmt.Errorf("max events must not be negative")
	}

	return nil
}
