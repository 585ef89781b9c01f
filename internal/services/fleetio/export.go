package fleetio

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/settings"
)

// ExportOptions selects what goes into a document.
type ExportOptions struct {
	IncludeGames  bool
	IncludeOutlet bool
	ServerVersion string
	Description   string
}

// ExportStats counts what was exported.
type ExportStats struct {
	Cabinets int
	Games    int
	Outlets  int
}

// Export reads the whole fleet into a document.
func Export(ctx context.Context, reg Registry, opts ExportOptions) (*Document, *ExportStats, error) {
	cabinets, err := reg.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list cabinets: %w", err)
	}

	doc := &Document{
		Version: FormatVersion,
		Metadata: &Metadata{
			ExportedAt:    time.Now().UTC().Format(time.RFC3339),
			ServerVersion: opts.ServerVersion,
			Description:   opts.Description,
		},
		Cabinets: make([]Cabinet, 0, len(cabinets)),
	}
	stats := &ExportStats{}

	for _, c := range cabinets {
		rec := Cabinet{
			IP:          c.IP,
			Description: c.Description,
			Region:      c.Region,
			Target:      c.Target,
			Version:     c.Version,
			TimeHack:    c.TimeHack,
			SendTimeout: c.SendTimeout,
		}
		if !c.Enabled {
			disabled := false
			rec.Enabled = &disabled
		}

		if opts.IncludeOutlet && c.Outlet.Configured() {
			raw := outlet.ToRaw(c.Outlet.Config)
			rec.Outlet = &raw
			rec.Controllable = c.Controllable
			rec.PowerCycle = c.PowerCycle
			stats.Outlets++
		}

		if opts.IncludeGames {
			games, err := reg.Games(ctx, c.IP)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read games of %s: %w", c.IP, err)
			}
			rec.Games = exportGames(games)
			stats.Games += len(rec.Games)
		}

		doc.Cabinets = append(doc.Cabinets, rec)
		stats.Cabinets++
	}

	log.Printf("📦 Exported %d cabinets (%d games, %d outlets)", stats.Cabinets, stats.Games, stats.Outlets)
	return doc, stats, nil
}

func exportGames(games []netboot.Game) []Game {
	out := make([]Game, 0, len(games))
	for _, g := range games {
		if !g.Enabled {
			continue
		}
		rec := Game{File: g.File}
		for _, p := range g.Patches {
			switch p := p.(type) {
			case netboot.BinaryPatch:
				if p.Enabled {
					rec.Patches = append(rec.Patches, p.File)
				}
			case netboot.SettingsPatch:
				if p.Enabled {
					rec.Settings = &SettingsValues{
						System: currentValues(p.Settings.System),
						Game:   currentValues(p.Settings.Game),
					}
				}
			case netboot.SRAMPatch:
				rec.SRAM = p.Active
			}
		}
		out = append(out, rec)
	}
	return out
}

func currentValues(t settings.Tree) map[string]int {
	if len(t.Settings) == 0 {
		return nil
	}
	values := make(map[string]int, len(t.Settings))
	for _, s := range t.Settings {
		values[s.Name] = s.Current
	}
	return values
}
