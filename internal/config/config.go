package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models starbridge.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Ship struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"ship" json:"ship"`
	Postures struct {
		Default string         `yaml:"default" json:"default"`
		Presets map[string]ROE `yaml:"presets" json:"presets"`
	} `yaml:"postures" json:"postures"`
	Seed struct {
		Systems []SeedEntity `yaml:"systems" json:"systems"`
		Assets  []SeedEntity `yaml:"assets" json:"assets"`
	} `yaml:"seed" json:"seed"`
}

// ROE is the rules-of-engagement bundle attached to a posture.
type ROE map[string]any

// SeedEntity describes a system or asset created with a new ship.
type SeedEntity struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Category  string   `yaml:"category" json:"category"`
	MaxValue  float64  `yaml:"max_value" json:"max_value"`
	DependsOn []string `yaml:"depends_on" json:"depends_on,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Ship.ID == "" {
		return fmt.Errorf("config.ship.id is required")
	}
	if len(c.Postures.Presets) == 0 {
		return fmt.Errorf("config.postures.presets is required")
	}
	for name := range c.Postures.Presets {
		if name == "" {
			return fmt.Errorf("config.postures.presets contains an empty posture name")
		}
	}
	if c.Postures.Default == "" {
		return fmt.Errorf("config.postures.default is required")
	}
	if _, ok := c.Postures.Presets[c.Postures.Default]; !ok {
		return fmt.Errorf("default posture %s has no preset", c.Postures.Default)
	}
	seen := map[string]bool{}
	all := append(append([]SeedEntity{}, c.Seed.Systems...), c.Seed.Assets...)
	for _, s := range all {
		if s.ID == "" {
			return fmt.Errorf("seed entity %q has empty id", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("seed entity id %s is duplicated", s.ID)
		}
		seen[s.ID] = true
		if s.MaxValue <= 0 {
			return fmt.Errorf("seed entity %s: max_value must be positive", s.ID)
		}
	}
	for _, s := range all {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("seed entity %s depends on unknown entity %s", s.ID, dep)
			}
		}
	}
	return nil
}

// PresetFor returns a copy of the ROE preset for posture.
func (c *Config) PresetFor(posture string) (ROE, bool) {
	preset, ok := c.Postures.Presets[posture]
	if !ok {
		return nil, false
	}
	out := make(ROE, len(preset))
	for k, v := range preset {
		out[k] = v
	}
	return out, true
}

// PostureNames lists configured postures in sorted order.
func (c *Config) PostureNames() []string {
	names := make([]string, 0, len(c.Postures.Presets))
	for name := range c.Postures.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "starbridge.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(shipID string) string {
	return fmt.Sprintf(defaultTemplate, shipID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a ship.
func Default(shipID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, shipID))).Decode(&cfg)
	cfg.Ship.ID = shipID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// DefaultShipID names the ship of the built-in config.
const DefaultShipID = "meridian"

// LoadEffective returns the config commands run with: the file at
// explicitPath when set, else the workspace starbridge.yml, else the
// built-in defaults.
func LoadEffective(workspace, explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return FromFile(explicitPath)
	}
	cfg, err := LoadOptional(workspace)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return Default(DefaultShipID), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

ship:
  id: %s
  name: "ISS Meridian"

postures:
  default: green
  presets:
    green:
      alert: none
      weapons: safe
      shields: standby
      comms: open
      transponder: active
      engagement: hold_fire
    yellow:
      alert: caution
      weapons: armed
      shields: raised
      comms: restricted
      transponder: active
      engagement: return_fire
    red:
      alert: battle_stations
      weapons: armed
      shields: full
      comms: restricted
      transponder: masked
      engagement: weapons_free
    silent_running:
      alert: caution
      weapons: safe
      shields: down
      comms: silent
      transponder: dark
      engagement: hold_fire

seed:
  systems:
    - id: reactor
      name: Reactor Core
      category: power
      max_value: 100
    - id: power
      name: Power Distribution
      category: power
      max_value: 100
      depends_on: [reactor]
    - id: shields
      name: Deflector Shields
      category: defense
      max_value: 100
      depends_on: [power]
    - id: engines
      name: Sublight Engines
      category: propulsion
      max_value: 100
      depends_on: [power]
    - id: sensors
      name: Sensor Array
      category: sensors
      max_value: 100
      depends_on: [power]
    - id: life_support
      name: Life Support
      category: support
      max_value: 100
      depends_on: [power]
    - id: hull
      name: Hull Integrity
      category: structure
      max_value: 100
  assets:
    - id: phaser_array
      name: Phaser Array
      category: weapon
      max_value: 100
      depends_on: [power]
    - id: torpedo_bay
      name: Torpedo Bay
      category: weapon
      max_value: 12
      depends_on: [power]
`
