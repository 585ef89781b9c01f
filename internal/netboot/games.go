package netboot

import (
	"encoding/json"
	"fmt"

	"github.com/bbernstein/netboot-go/internal/services/settings"
)

// PatchKind discriminates the Patch variants.
type PatchKind string

const (
	KindPatch    PatchKind = "patch"
	KindSettings PatchKind = "settings"
	KindSRAM     PatchKind = "sram"
)

// Fixed file identifiers of the settings and SRAM sections of a game.
const (
	SettingsFile = "eeprom"
	SRAMFile     = "sram"
)

// Patch is one of BinaryPatch, SettingsPatch or SRAMPatch.
type Patch interface {
	Kind() PatchKind
}

// BinaryPatch is a binary diff applied to the game image.
type BinaryPatch struct {
	File    string `json:"file"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// SettingsPatch overlays an EEPROM settings collection. Its settings only
// apply while it is enabled.
type SettingsPatch struct {
	File     string              `json:"file"`
	Enabled  bool                `json:"enabled"`
	Settings settings.Collection `json:"settings"`
}

// Choice is one option of an SRAM selector.
type Choice struct {
	Value string `json:"v"`
	Label string `json:"t"`
}

// SRAMPatch selects an SRAM image to attach; an empty Active means none.
type SRAMPatch struct {
	File    string   `json:"file"`
	Active  string   `json:"active"`
	Choices []Choice `json:"choices"`
}

func (BinaryPatch) Kind() PatchKind   { return KindPatch }
func (SettingsPatch) Kind() PatchKind { return KindSettings }
func (SRAMPatch) Kind() PatchKind     { return KindSRAM }

// NoSRAMLabel is the label of the empty SRAM choice.
const NoSRAMLabel = "No SRAM File"

// Game is a game's availability and patch state for one cabinet.
type Game struct {
	File    string  `json:"file"`
	Name    string  `json:"name"`
	Enabled bool    `json:"enabled"`
	Patches []Patch `json:"-"`
}

type wireGame struct {
	File    string            `json:"file"`
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Patches []json.RawMessage `json:"patches"`
}

// MarshalJSON writes each patch with its "type" discriminator.
func (g Game) MarshalJSON() ([]byte, error) {
	w := wireGame{File: g.File, Name: g.Name, Enabled: g.Enabled, Patches: make([]json.RawMessage, 0, len(g.Patches))}
	for _, p := range g.Patches {
		data, err := MarshalPatch(p)
		if err != nil {
			return nil, err
		}
		w.Patches = append(w.Patches, data)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes patches by their "type" field.
func (g *Game) UnmarshalJSON(data []byte) error {
	var w wireGame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.File, g.Name, g.Enabled = w.File, w.Name, w.Enabled
	g.Patches = make([]Patch, 0, len(w.Patches))
	for _, raw := range w.Patches {
		p, err := UnmarshalPatch(raw)
		if err != nil {
			return fmt.Errorf("game %s: %w", w.File, err)
		}
		g.Patches = append(g.Patches, p)
	}
	return nil
}

// MarshalPatch encodes a patch with its type tag.
func MarshalPatch(p Patch) ([]byte, error) {
	switch v := p.(type) {
	case BinaryPatch:
		return json.Marshal(struct {
			Type PatchKind `json:"type"`
			BinaryPatch
		}{KindPatch, v})
	case SettingsPatch:
		return json.Marshal(struct {
			Type PatchKind `json:"type"`
			SettingsPatch
		}{KindSettings, v})
	case SRAMPatch:
		return json.Marshal(struct {
			Type PatchKind `json:"type"`
			SRAMPatch
		}{KindSRAM, v})
	}
	return nil, fmt.Errorf("unknown patch %T", p)
}

// UnmarshalPatch decodes a tagged patch.
func UnmarshalPatch(data []byte) (Patch, error) {
	var tag struct {
		Type PatchKind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}
	switch tag.Type {
	case KindPatch:
		var p BinaryPatch
		err := json.Unmarshal(data, &p)
		return p, err
	case KindSettings:
		var p SettingsPatch
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.Enabled {
			if err := p.Settings.Validate(); err != nil {
				return nil, err
			}
		}
		return p, nil
	case KindSRAM:
		var p SRAMPatch
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unknown patch type %q", tag.Type)
}

// Split returns the enabled binary patch files, the settings section and the
// SRAM section of a game. More than one settings or SRAM section is an error.
func (g Game) Split() (patches []string, settingsPatch *SettingsPatch, sram *SRAMPatch, err error) {
	patches = []string{}
	for _, p := range g.Patches {
		switch v := p.(type) {
		case BinaryPatch:
			if v.Enabled {
				patches = append(patches, v.File)
			}
		case SettingsPatch:
			if settingsPatch != nil {
				return nil, nil, nil, fmt.Errorf("game %s: more than one settings section", g.File)
			}
			settingsPatch = &v
		case SRAMPatch:
			if sram != nil {
				return nil, nil, nil, fmt.Errorf("game %s: more than one SRAM section", g.File)
			}
			sram = &v
		}
	}
	return patches, settingsPatch, sram, nil
}
