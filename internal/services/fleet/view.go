package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/bbernstein/netboot-go/internal/database/models"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

// view builds the client-visible cabinet. Options are the offered games that
// run on the cabinet's target, named for its region.
func (s *Service) view(ctx context.Context, row *models.Cabinet) (netboot.Cabinet, error) {
	files, err := s.games.Files(ctx, row.IP)
	if err != nil {
		return netboot.Cabinet{}, fmt.Errorf("failed to load games: %w", err)
	}

	region := netboot.Region(row.Region)
	target := netboot.Target(row.Target)

	options := make([]netboot.GameOption, 0, len(files))
	for _, f := range files {
		if !s.catalog.Compatible(f, target) {
			continue
		}
		options = append(options, netboot.GameOption{File: f, Name: s.catalog.GameName(f, region)})
	}
	sort.SliceStable(options, func(i, j int) bool { return options[i].Name < options[j].Name })

	game := NoGameSelected
	if row.Filename != nil {
		game = s.catalog.GameName(*row.Filename, region)
	}

	b := bindingOf(row)
	return netboot.Cabinet{
		IP:           row.IP,
		Description:  row.Description,
		Region:       region,
		Game:         game,
		Filename:     row.Filename,
		Options:      options,
		Target:       target,
		Version:      row.Version,
		Status:       netboot.Status(row.Status),
		Progress:     row.Progress,
		Enabled:      row.Enabled,
		TimeHack:     row.TimeHack,
		SendTimeout:  row.SendTimeout,
		PowerState:   outlet.PowerState(row.PowerState),
		Controllable: b.Controllable,
		PowerCycle:   b.PowerCycle,
		Outlet:       outlet.Spec{Config: b.Outlet},
	}, nil
}

func bindingOf(row *models.Cabinet) outlet.Binding {
	return outlet.Binding{
		Enabled:      row.Enabled,
		Controllable: row.Controllable,
		PowerCycle:   row.PowerCycle,
		Outlet:       decodeOutlet(row.Outlet).Config,
	}.Normalize()
}

func encodeOutlet(c outlet.Config) string {
	data, err := json.Marshal(outlet.Spec{Config: c})
	if err != nil {
		return `{"type":"none"}`
	}
	return string(data)
}

// decodeOutlet parses a stored outlet. A missing or corrupt value reads as
// no outlet.
func decodeOutlet(raw string) outlet.Spec {
	var spec outlet.Spec
	if raw == "" {
		return outlet.Spec{Config: outlet.None{}}
	}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		log.Printf("⚠️  Ignoring stored outlet config: %v", err)
		return outlet.Spec{Config: outlet.None{}}
	}
	return spec
}
