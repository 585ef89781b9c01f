package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bbernstein/netboot-go/internal/database/models"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/settings"
)

// Games returns the availability and patch state of every game that runs on
// the cabinet's target, sorted by display name. Settings and SRAM sections
// are only offered to naomi cabinets.
func (s *Service) Games(ctx context.Context, ip string) ([]netboot.Game, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return nil, err
	}
	offered, err := s.gameRows(ctx, ip)
	if err != nil {
		return nil, err
	}

	region := netboot.Region(row.Region)
	target := netboot.Target(row.Target)

	files := s.catalog.CompatibleGames(target)
	games := make([]netboot.Game, 0, len(files))
	for _, file := range files {
		entry, _ := s.catalog.Game(file)
		state, enabled := offered[file]

		enabledPatches := map[string]bool{}
		for _, p := range state.patches {
			enabledPatches[p] = true
		}

		binaries := make([]netboot.BinaryPatch, 0, len(entry.Patches))
		for _, p := range entry.Patches {
			binaries = append(binaries, netboot.BinaryPatch{
				File:    p,
				Name:    s.catalog.PatchName(p),
				Enabled: enabledPatches[p],
			})
		}
		sort.SliceStable(binaries, func(i, j int) bool { return binaries[i].Name < binaries[j].Name })

		patches := make([]netboot.Patch, 0, len(binaries)+2)
		for _, b := range binaries {
			patches = append(patches, b)
		}

		if target == netboot.TargetNaomi {
			if state.settings != nil {
				patches = append(patches, netboot.SettingsPatch{File: netboot.SettingsFile, Enabled: true, Settings: *state.settings})
			} else if defaults, ok := s.catalog.DefaultSettings(file); ok {
				patches = append(patches, netboot.SettingsPatch{File: netboot.SettingsFile, Enabled: false, Settings: defaults})
			}

			if len(entry.SRAMs) > 0 {
				choices := []netboot.Choice{{Value: "", Label: netboot.NoSRAMLabel}}
				for _, f := range entry.SRAMs {
					choices = append(choices, netboot.Choice{Value: f, Label: s.catalog.SRAMName(f)})
				}
				patches = append(patches, netboot.SRAMPatch{File: netboot.SRAMFile, Active: state.sram, Choices: choices})
			}
		}

		games = append(games, netboot.Game{
			File:    file,
			Name:    s.catalog.GameName(file, region),
			Enabled: enabled,
			Patches: patches,
		})
	}

	sort.SliceStable(games, func(i, j int) bool { return games[i].Name < games[j].Name })
	return games, nil
}

// UpdateGames applies the posted availability of games. Games not posted are
// left untouched; a disabled game loses its patch state.
func (s *Service) UpdateGames(ctx context.Context, ip string, posted []netboot.Game) ([]netboot.Game, error) {
	s.mu.Lock()
	row, err := s.find(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	target := netboot.Target(row.Target)

	var upserts []models.CabinetGame
	var removals []string
	for _, g := range posted {
		entry, ok := s.catalog.Game(g.File)
		if !ok {
			s.mu.Unlock()
			return nil, netboot.ValidationErrors{"games": fmt.Sprintf("unknown game %s", g.File)}
		}
		if !g.Enabled {
			removals = append(removals, g.File)
			continue
		}

		game, err := gameRow(g, entry.Patches, entry.SRAMs, target)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		upserts = append(upserts, game)
	}

	err = s.games.Apply(ctx, ip, upserts, removals)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update games: %w", err)
	}

	s.publish(ctx)
	return s.Games(ctx, ip)
}

func gameRow(g netboot.Game, known, srams []string, target netboot.Target) (models.CabinetGame, error) {
	enabled, settingsPatch, sramPatch, err := g.Split()
	if err != nil {
		return models.CabinetGame{}, netboot.ValidationErrors{"games": err.Error()}
	}

	allowed := make(map[string]bool, len(known))
	for _, p := range known {
		allowed[p] = true
	}
	patches := make([]string, 0, len(enabled))
	for _, p := range enabled {
		if !allowed[p] {
			return models.CabinetGame{}, netboot.ValidationErrors{"games": fmt.Sprintf("patch %s does not apply to %s", p, g.File)}
		}
		patches = append(patches, p)
	}
	sort.Strings(patches)

	data, err := json.Marshal(patches)
	if err != nil {
		return models.CabinetGame{}, err
	}
	row := models.CabinetGame{File: g.File, Patches: string(data)}

	if target != netboot.TargetNaomi {
		return row, nil
	}

	if settingsPatch != nil && settingsPatch.Enabled {
		if err := settingsPatch.Settings.Validate(); err != nil {
			return models.CabinetGame{}, netboot.ValidationErrors{"settings": err.Error()}
		}
		data, err := json.Marshal(settingsPatch.Settings)
		if err != nil {
			return models.CabinetGame{}, err
		}
		encoded := string(data)
		row.Settings = &encoded
	}

	if sramPatch != nil && sramPatch.Active != "" {
		found := false
		for _, f := range srams {
			if f == sramPatch.Active {
				found = true
				break
			}
		}
		if !found {
			return models.CabinetGame{}, netboot.ValidationErrors{"sram": fmt.Sprintf("SRAM file %s does not apply to %s", sramPatch.Active, g.File)}
		}
		active := sramPatch.Active
		row.SRAM = &active
	}
	return row, nil
}

type gameState struct {
	patches  []string
	settings *settings.Collection
	sram     string
}

func (s *Service) gameRows(ctx context.Context, ip string) (map[string]gameState, error) {
	rows, err := s.games.FindByCabinetIP(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to load games: %w", err)
	}

	out := make(map[string]gameState, len(rows))
	for _, r := range rows {
		var st gameState
		if r.Patches != "" {
			if err := json.Unmarshal([]byte(r.Patches), &st.patches); err != nil {
				return nil, fmt.Errorf("game %s: corrupt patch list: %w", r.File, err)
			}
		}
		if r.Settings != nil {
			var c settings.Collection
			if err := json.Unmarshal([]byte(*r.Settings), &c); err != nil {
				return nil, fmt.Errorf("game %s: corrupt settings: %w", r.File, err)
			}
			st.settings = &c
		}
		if r.SRAM != nil {
			st.sram = *r.SRAM
		}
		out[r.File] = st
	}
	return out, nil
}
