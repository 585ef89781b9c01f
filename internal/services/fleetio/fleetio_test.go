package fleetio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/catalog"
	"github.com/bbernstein/netboot-go/internal/services/fleet"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
	"github.com/bbernstein/netboot-go/internal/services/settings"
	"github.com/bbernstein/netboot-go/internal/services/testutil"
	"github.com/bbernstein/netboot-go/pkg/netdimm"
)

type idleDriver struct{}

func (idleDriver) State(ctx context.Context) (bool, error)   { return false, nil }
func (idleDriver) SetState(ctx context.Context, on bool) error { return nil }

type idleProber struct{}

func (idleProber) Info(ctx context.Context, host string) (netdimm.Info, error) {
	return netdimm.Info{}, nil
}

func manifest() *catalog.Manifest {
	return &catalog.Manifest{
		Games: []catalog.GameEntry{
			{
				File:     "/roms/naomi/mvsc2.bin",
				Names:    map[string]string{"usa": "Marvel vs. Capcom 2"},
				Targets:  []netboot.Target{netboot.TargetNaomi},
				Patches:  []string{"/patches/mvsc2-fp.binpatch"},
				SRAMs:    []string{"/srams/mvsc2.sram"},
				Settings: "/settings/mvsc2.yaml",
			},
			{File: "/roms/naomi/ikaruga.bin", Names: map[string]string{"usa": "Ikaruga"}, Targets: []netboot.Target{netboot.TargetNaomi}},
			{File: "/roms/chihiro/ogr.bin", Names: map[string]string{"usa": "Out Run 2"}, Targets: []netboot.Target{netboot.TargetChihiro}},
		},
		Patches: []catalog.FileEntry{{File: "/patches/mvsc2-fp.binpatch", Name: "Free Play"}},
		SRAMs:   []catalog.FileEntry{{File: "/srams/mvsc2.sram", Name: "Unlocked"}},
		Settings: []catalog.SettingsEntry{{
			File: "/settings/mvsc2.yaml",
			Collection: settings.Collection{
				Serial: "BBJE",
				Game: settings.Tree{Settings: []settings.Setting{
					{Name: "Difficulty", Values: map[int]string{1: "1", 2: "2", 3: "3"}, Current: 1},
				}},
			},
		}},
	}
}

func newRegistry(t *testing.T) (*fleet.Service, *testutil.TestDB) {
	t.Helper()
	testDB, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	cat, err := catalog.NewFromManifest(context.Background(), manifest(), testDB.RomNameRepo)
	require.NoError(t, err)

	outlets := outlet.NewServiceWithFactory(func(outlet.Config) (outlet.Driver, error) { return idleDriver{}, nil }, time.Millisecond)
	svc := fleet.NewService(testDB.DB, cat, outlets, idleProber{}, pubsub.New(), fleet.Options{})
	t.Cleanup(svc.Close)
	return svc, testDB
}

const fleetYAML = `version: "1.0"
cabinets:
  - ip: 10.0.0.5
    description: Cab A
    region: usa
    target: naomi
    version: "4.02"
    time_hack: true
    outlet:
      type: ap7900
      host: 10.0.0.100
      outlet: "3"
    controllable: true
    games:
      - file: /roms/naomi/mvsc2.bin
        patches: [/patches/mvsc2-fp.binpatch]
        settings:
          game:
            Difficulty: 3
        sram: /srams/mvsc2.sram
  - ip: 10.0.0.6
    description: Cab B
    region: japan
    target: chihiro
    version: "3.17"
    enabled: false
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(fleetYAML))
	require.NoError(t, err)
	require.Len(t, doc.Cabinets, 2)
	assert.Equal(t, outlet.TypeAP7900, doc.Cabinets[0].Outlet.Type)
	assert.Equal(t, 3, doc.Cabinets[0].Games[0].Settings.Game["Difficulty"])
	require.NotNil(t, doc.Cabinets[1].Enabled)
	assert.False(t, *doc.Cabinets[1].Enabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "cabinets: [", "failed to parse"},
		{"bad ip", "cabinets:\n  - {ip: 10.0.0, description: A, region: usa, target: naomi, version: v1}\n", "ip"},
		{"duplicate", "cabinets:\n  - {ip: 10.0.0.5, description: A, region: usa, target: naomi, version: v1}\n  - {ip: 10.0.0.5, description: B, region: usa, target: naomi, version: v1}\n", "duplicate"},
		{"bad outlet", "cabinets:\n  - {ip: 10.0.0.5, description: A, region: usa, target: naomi, version: v1, outlet: {type: ap7900, host: 10.0.0.100, outlet: '9'}}\n", "outlet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestImport_CreatesCabinets(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	doc, err := Parse([]byte(fleetYAML))
	require.NoError(t, err)

	stats, warnings, err := Import(ctx, reg, doc, ImportOptions{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Games)

	a, err := reg.Get(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, a.TimeHack)
	assert.True(t, a.Controllable)
	assert.Equal(t, outlet.TypeAP7900, a.Outlet.Type())

	b, err := reg.Get(ctx, "10.0.0.6")
	require.NoError(t, err)
	assert.False(t, b.Enabled)
	assert.Equal(t, netboot.StatusDisabled, b.Status)

	games, err := reg.Games(ctx, "10.0.0.5")
	require.NoError(t, err)
	for _, g := range games {
		switch g.File {
		case "/roms/naomi/ikaruga.bin":
			assert.False(t, g.Enabled, "unlisted game should be disabled")
		case "/roms/naomi/mvsc2.bin":
			assert.True(t, g.Enabled)
			for _, p := range g.Patches {
				switch p := p.(type) {
				case netboot.BinaryPatch:
					assert.True(t, p.Enabled)
				case netboot.SettingsPatch:
					assert.True(t, p.Enabled)
					assert.Equal(t, 3, p.Settings.Game.Settings[0].Current)
				case netboot.SRAMPatch:
					assert.Equal(t, "/srams/mvsc2.sram", p.Active)
				}
			}
		}
	}
}

func TestImport_Modes(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, netboot.NewCabinet{IP: "10.0.0.5", Description: "Old", Region: netboot.RegionUSA, Target: netboot.TargetNaomi, Version: "v1"})
	require.NoError(t, err)
	_, err = reg.Create(ctx, netboot.NewCabinet{IP: "10.0.0.9", Description: "Stray", Region: netboot.RegionUSA, Target: netboot.TargetNaomi, Version: "v1"})
	require.NoError(t, err)

	doc, err := Parse([]byte(fleetYAML))
	require.NoError(t, err)

	stats, warnings, err := Import(ctx, reg, doc, ImportOptions{Mode: ImportModeCreate})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Created)
	assert.Contains(t, warnings, "Skipped existing cabinet: 10.0.0.5")

	old, _ := reg.Get(ctx, "10.0.0.5")
	assert.Equal(t, "Old", old.Description)

	stats, _, err = Import(ctx, reg, doc, ImportOptions{Mode: ImportModeReplace})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 1, stats.Removed)

	updated, _ := reg.Get(ctx, "10.0.0.5")
	assert.Equal(t, "Cab A", updated.Description)
	_, err = reg.Get(ctx, "10.0.0.9")
	assert.ErrorIs(t, err, fleet.ErrNotFound)

	_, _, err = Import(ctx, reg, doc, ImportOptions{Mode: "UPSERT"})
	assert.Error(t, err)
}

func TestImport_UnknownFilesWarn(t *testing.T) {
	reg, _ := newRegistry(t)
	doc := &Document{Cabinets: []Cabinet{{
		IP: "10.0.0.5", Description: "Cab A", Region: netboot.RegionUSA, Target: netboot.TargetNaomi, Version: "v1",
		Games: []Game{
			{File: "/roms/naomi/mvsc2.bin", Patches: []string{"/patches/nope.binpatch"}, SRAM: "/srams/nope.sram"},
			{File: "/roms/chihiro/ogr.bin"},
		},
	}}}

	_, warnings, err := Import(context.Background(), reg, doc, ImportOptions{})
	require.NoError(t, err)
	joined := strings.Join(warnings, "\n")
	assert.Contains(t, joined, "unknown patch /patches/nope.binpatch")
	assert.Contains(t, joined, "unknown SRAM file /srams/nope.sram")
	assert.Contains(t, joined, "does not offer game /roms/chihiro/ogr.bin")
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newRegistry(t)
	ctx := context.Background()

	doc, err := Parse([]byte(fleetYAML))
	require.NoError(t, err)
	_, _, err = Import(ctx, src, doc, ImportOptions{})
	require.NoError(t, err)

	exported, stats, err := Export(ctx, src, ExportOptions{IncludeGames: true, IncludeOutlet: true, ServerVersion: "test"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Cabinets)
	assert.Equal(t, 1, stats.Outlets)
	assert.Equal(t, FormatVersion, exported.Version)

	data, err := exported.Marshal()
	require.NoError(t, err)
	reparsed, err := Parse(data)
	require.NoError(t, err)

	dst, _ := newRegistry(t)
	_, _, err = Import(ctx, dst, reparsed, ImportOptions{})
	require.NoError(t, err)

	a, err := dst.Get(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "Cab A", a.Description)
	assert.Equal(t, outlet.TypeAP7900, a.Outlet.Type())

	again, _, err := Export(ctx, dst, ExportOptions{IncludeGames: true, IncludeOutlet: true})
	require.NoError(t, err)
	assert.Equal(t, exported.Cabinets, again.Cabinets)
}

func TestSeed(t *testing.T) {
	reg, testDB := newRegistry(t)
	ctx := context.Background()

	file := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(file, []byte(fleetYAML), 0o644))

	seeded, err := Seed(ctx, reg, testDB.SettingRepo, "")
	require.NoError(t, err)
	assert.False(t, seeded)

	seeded, err = Seed(ctx, reg, testDB.SettingRepo, file)
	require.NoError(t, err)
	assert.True(t, seeded)

	recorded, err := testDB.SettingRepo.Value(ctx, SeedFileKey)
	require.NoError(t, err)
	assert.Equal(t, file, recorded)

	// A populated registry is never seeded again.
	seeded, err = Seed(ctx, reg, testDB.SettingRepo, file)
	require.NoError(t, err)
	assert.False(t, seeded)

	cabinets, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cabinets, 2)
}

func TestSeed_MissingFile(t *testing.T) {
	reg, testDB := newRegistry(t)
	_, err := Seed(context.Background(), reg, testDB.SettingRepo, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
