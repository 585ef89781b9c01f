// Package fleetio moves a cabinet fleet in and out of YAML documents.
package fleetio

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

// FormatVersion is written into every exported document.
const FormatVersion = "1.0"

// Registry is the part of the fleet API that export and import use. Both the
// in-process fleet service and the HTTP client satisfy it.
type Registry interface {
	List(ctx context.Context) ([]netboot.Cabinet, error)
	Games(ctx context.Context, ip string) ([]netboot.Game, error)
	Create(ctx context.Context, nc netboot.NewCabinet) (netboot.Cabinet, error)
	Update(ctx context.Context, ip string, u netboot.CabinetUpdate) (netboot.Cabinet, error)
	Remove(ctx context.Context, ip string) error
	SetOutlet(ctx context.Context, ip string, u netboot.OutletUpdate) (netboot.OutletState, error)
	UpdateGames(ctx context.Context, ip string, games []netboot.Game) ([]netboot.Game, error)
}

// Document is an exported fleet.
type Document struct {
	Version  string    `yaml:"version"`
	Metadata *Metadata `yaml:"metadata,omitempty"`
	Cabinets []Cabinet `yaml:"cabinets"`
}

// Metadata describes where and when a document was exported.
type Metadata struct {
	ExportedAt    string `yaml:"exported_at"`
	ServerVersion string `yaml:"server_version,omitempty"`
	Description   string `yaml:"description,omitempty"`
}

// Cabinet is one exported cabinet.
type Cabinet struct {
	IP           string         `yaml:"ip"`
	Description  string         `yaml:"description"`
	Region       netboot.Region `yaml:"region"`
	Target       netboot.Target `yaml:"target"`
	Version      string         `yaml:"version"`
	Enabled      *bool          `yaml:"enabled,omitempty"`
	TimeHack     bool           `yaml:"time_hack,omitempty"`
	SendTimeout  *int           `yaml:"send_timeout,omitempty"`
	Outlet       *outlet.Raw    `yaml:"outlet,omitempty"`
	Controllable bool           `yaml:"controllable,omitempty"`
	PowerCycle   bool           `yaml:"power_cycle,omitempty"`
	// Games lists the enabled games. When nil every game stays enabled.
	Games []Game `yaml:"games,omitempty"`
}

// Game is one enabled game and the state of its patches.
type Game struct {
	File     string          `yaml:"file"`
	Patches  []string        `yaml:"patches,omitempty"`
	Settings *SettingsValues `yaml:"settings,omitempty"`
	SRAM     string          `yaml:"sram,omitempty"`
}

// SettingsValues holds the chosen value of each EEPROM setting by name.
type SettingsValues struct {
	System map[string]int `yaml:"system,omitempty"`
	Game   map[string]int `yaml:"game,omitempty"`
}

// Validate checks every cabinet without touching a registry.
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Cabinets))
	for i, c := range d.Cabinets {
		if err := c.newCabinet().Validate(); err != nil {
			return fmt.Errorf("cabinet %d (%s): %w", i, c.IP, err)
		}
		if seen[c.IP] {
			return fmt.Errorf("cabinet %d: duplicate ip %s", i, c.IP)
		}
		seen[c.IP] = true
		if c.Outlet != nil {
			if errs := outlet.Validate(*c.Outlet); errs != nil {
				return fmt.Errorf("cabinet %s outlet: %w", c.IP, errs)
			}
		}
	}
	return nil
}

func (c Cabinet) newCabinet() netboot.NewCabinet {
	return netboot.NewCabinet{
		IP:          c.IP,
		Description: c.Description,
		Region:      c.Region,
		Target:      c.Target,
		Version:     c.Version,
		TimeHack:    c.TimeHack,
		SendTimeout: c.SendTimeout,
	}
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fleet document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fleet document: %w", err)
	}
	return &doc, nil
}

// Load reads a document from a file.
func Load(file string) (*Document, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return Parse(data)
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fleet document: %w", err)
	}
	return data, nil
}

// Save writes the document to a file.
func (d *Document) Save(file string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fleet file: %w", err)
	}
	return nil
}
