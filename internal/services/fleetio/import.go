package fleetio

import (
	"context"
	"fmt"
	"log"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/settings"
)

// ImportMode determines how cabinets already in the registry are handled.
type ImportMode string

const (
	// ImportModeCreate only adds new cabinets; existing ones are skipped.
	ImportModeCreate ImportMode = "CREATE"
	// ImportModeMerge adds new cabinets and overwrites existing ones.
	ImportModeMerge ImportMode = "MERGE"
	// ImportModeReplace merges, then removes cabinets missing from the document.
	ImportModeReplace ImportMode = "REPLACE"
)

// ImportStats counts what an import changed.
type ImportStats struct {
	Created int
	Updated int
	Skipped int
	Removed int
	Games   int
}

// ImportOptions configures an import.
type ImportOptions struct {
	Mode ImportMode
}

// Import applies a document to the registry. Problems that only affect part
// of a cabinet are returned as warnings; a failed registry call stops the
// import.
func Import(ctx context.Context, reg Registry, doc *Document, opts ImportOptions) (*ImportStats, []string, error) {
	if err := doc.Validate(); err != nil {
		return nil, nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ImportModeCreate
	}
	switch opts.Mode {
	case ImportModeCreate, ImportModeMerge, ImportModeReplace:
	default:
		return nil, nil, fmt.Errorf("unknown import mode %q", opts.Mode)
	}

	existing, err := reg.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list cabinets: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.IP] = true
	}

	stats := &ImportStats{}
	var warnings []string

	for _, rec := range doc.Cabinets {
		if known[rec.IP] {
			if opts.Mode == ImportModeCreate {
				warnings = append(warnings, "Skipped existing cabinet: "+rec.IP)
				stats.Skipped++
				continue
			}
			if _, err := reg.Update(ctx, rec.IP, fullUpdate(rec)); err != nil {
				return stats, warnings, fmt.Errorf("failed to update cabinet %s: %w", rec.IP, err)
			}
			stats.Updated++
		} else {
			if _, err := reg.Create(ctx, rec.newCabinet()); err != nil {
				return stats, warnings, fmt.Errorf("failed to create cabinet %s: %w", rec.IP, err)
			}
			if rec.Enabled != nil && !*rec.Enabled {
				if _, err := reg.Update(ctx, rec.IP, netboot.CabinetUpdate{Enabled: rec.Enabled}); err != nil {
					return stats, warnings, fmt.Errorf("failed to disable cabinet %s: %w", rec.IP, err)
				}
			}
			stats.Created++
		}

		if rec.Outlet != nil {
			_, err := reg.SetOutlet(ctx, rec.IP, netboot.OutletUpdate{
				Outlet:       *rec.Outlet,
				Controllable: rec.Controllable,
				PowerCycle:   rec.PowerCycle,
			})
			if err != nil {
				return stats, warnings, fmt.Errorf("failed to set outlet of %s: %w", rec.IP, err)
			}
		}

		if rec.Games != nil {
			n, gameWarnings, err := importGames(ctx, reg, rec)
			warnings = append(warnings, gameWarnings...)
			if err != nil {
				return stats, warnings, err
			}
			stats.Games += n
		}
	}

	if opts.Mode == ImportModeReplace {
		wanted := make(map[string]bool, len(doc.Cabinets))
		for _, rec := range doc.Cabinets {
			wanted[rec.IP] = true
		}
		for _, c := range existing {
			if wanted[c.IP] {
				continue
			}
			if err := reg.Remove(ctx, c.IP); err != nil {
				return stats, warnings, fmt.Errorf("failed to remove cabinet %s: %w", c.IP, err)
			}
			stats.Removed++
		}
	}

	log.Printf("📥 Imported fleet: %d created, %d updated, %d skipped, %d removed",
		stats.Created, stats.Updated, stats.Skipped, stats.Removed)
	return stats, warnings, nil
}

func fullUpdate(rec Cabinet) netboot.CabinetUpdate {
	enabled := rec.Enabled == nil || *rec.Enabled
	u := netboot.CabinetUpdate{
		Description: &rec.Description,
		Region:      &rec.Region,
		Target:      &rec.Target,
		Version:     &rec.Version,
		Enabled:     &enabled,
		TimeHack:    &rec.TimeHack,
		SendTimeout: rec.SendTimeout,
	}
	if rec.SendTimeout == nil {
		u.ClearSendTimeout = true
	}
	return u
}

// importGames enables exactly the games listed for a cabinet. Games the
// cabinet does not offer are reported and skipped.
func importGames(ctx context.Context, reg Registry, rec Cabinet) (int, []string, error) {
	current, err := reg.Games(ctx, rec.IP)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read games of %s: %w", rec.IP, err)
	}

	wanted := make(map[string]Game, len(rec.Games))
	for _, g := range rec.Games {
		wanted[g.File] = g
	}

	var warnings []string
	offered := make(map[string]bool, len(current))
	posted := make([]netboot.Game, 0, len(current))
	enabled := 0

	for _, g := range current {
		offered[g.File] = true
		want, ok := wanted[g.File]
		g.Enabled = ok
		if ok {
			enabled++
			g.Patches, warnings = applyPatches(rec.IP, g, want, warnings)
		}
		posted = append(posted, g)
	}

	for _, g := range rec.Games {
		if !offered[g.File] {
			warnings = append(warnings, fmt.Sprintf("Cabinet %s does not offer game %s", rec.IP, g.File))
		}
	}

	if _, err := reg.UpdateGames(ctx, rec.IP, posted); err != nil {
		return 0, warnings, fmt.Errorf("failed to update games of %s: %w", rec.IP, err)
	}
	return enabled, warnings, nil
}

func applyPatches(ip string, g netboot.Game, want Game, warnings []string) ([]netboot.Patch, []string) {
	enable := make(map[string]bool, len(want.Patches))
	for _, p := range want.Patches {
		enable[p] = true
	}

	patches := make([]netboot.Patch, 0, len(g.Patches))
	for _, p := range g.Patches {
		switch p := p.(type) {
		case netboot.BinaryPatch:
			p.Enabled = enable[p.File]
			delete(enable, p.File)
			patches = append(patches, p)
		case netboot.SettingsPatch:
			p.Enabled = want.Settings != nil
			if want.Settings != nil {
				p.Settings.System, warnings = setValues(ip, g.File, p.Settings.System, want.Settings.System, warnings)
				p.Settings.Game, warnings = setValues(ip, g.File, p.Settings.Game, want.Settings.Game, warnings)
			}
			patches = append(patches, p)
		case netboot.SRAMPatch:
			p.Active = ""
			if want.SRAM != "" {
				if hasChoice(p.Choices, want.SRAM) {
					p.Active = want.SRAM
				} else {
					warnings = append(warnings, fmt.Sprintf("Cabinet %s game %s: unknown SRAM file %s", ip, g.File, want.SRAM))
				}
			}
			patches = append(patches, p)
		default:
			patches = append(patches, p)
		}
	}

	for file := range enable {
		warnings = append(warnings, fmt.Sprintf("Cabinet %s game %s: unknown patch %s", ip, g.File, file))
	}
	return patches, warnings
}

func setValues(ip, file string, tree settings.Tree, values map[string]int, warnings []string) (settings.Tree, []string) {
	tree.Settings = append([]settings.Setting(nil), tree.Settings...)
	for name, v := range values {
		if err := tree.SetCurrent(name, v); err != nil {
			warnings = append(warnings, fmt.Sprintf("Cabinet %s game %s: %v", ip, file, err))
		}
	}
	return tree, warnings
}

func hasChoice(choices []netboot.Choice, v string) bool {
	for _, c := range choices {
		if c.Value == v {
			return true
		}
	}
	return false
}
