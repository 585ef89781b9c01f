// Package catalog serves the game, patch, SRAM and settings listings that
// cabinets choose from. The catalog is described by a YAML manifest; display
// name overrides made by operators are stored in the database.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bbernstein/netboot-go/internal/database/models"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/settings"
)

// ErrUnknownGame is returned for a game file the catalog does not list.
var ErrUnknownGame = errors.New("this isn't a valid ROM file")

// Manifest is the on-disk catalog description.
type Manifest struct {
	Games    []GameEntry     `yaml:"games"`
	Patches  []FileEntry     `yaml:"patches"`
	SRAMs    []FileEntry     `yaml:"srams"`
	Settings []SettingsEntry `yaml:"settings"`
}

// GameEntry describes one game image.
type GameEntry struct {
	File     string            `yaml:"file"`
	Names    map[string]string `yaml:"names"`
	Targets  []netboot.Target  `yaml:"targets,omitempty"` // empty means every target
	Patches  []string          `yaml:"patches,omitempty"`
	SRAMs    []string          `yaml:"srams,omitempty"`
	Settings string            `yaml:"settings,omitempty"` // settings definition file
}

// FileEntry is a patch or SRAM file with its display name.
type FileEntry struct {
	File string `yaml:"file"`
	Name string `yaml:"name"`
}

// SettingsEntry is a settings definition file.
type SettingsEntry struct {
	File string `yaml:"file"`

	settings.Collection `yaml:",inline"`
}

// NameStore persists display name overrides.
type NameStore interface {
	FindAll(ctx context.Context) ([]models.RomName, error)
	Upsert(ctx context.Context, file, region, name string) (*models.RomName, error)
}

// Catalog is a loaded manifest plus name overrides.
type Catalog struct {
	path   string
	static *Manifest // used instead of path when set
	names  NameStore

	mu        sync.RWMutex
	games     map[string]GameEntry
	patches   map[string]string
	srams     map[string]string
	defs      map[string]settings.Collection
	overrides map[string]map[netboot.Region]string
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every reference in the manifest resolves.
func (m *Manifest) Validate() error {
	patches := make(map[string]bool, len(m.Patches))
	for _, p := range m.Patches {
		patches[p.File] = true
	}
	srams := make(map[string]bool, len(m.SRAMs))
	for _, s := range m.SRAMs {
		srams[s.File] = true
	}
	defs := make(map[string]bool, len(m.Settings))
	for _, s := range m.Settings {
		if err := s.Collection.Validate(); err != nil {
			return fmt.Errorf("settings %q: %w", s.File, err)
		}
		defs[s.File] = true
	}

	seen := make(map[string]bool, len(m.Games))
	for _, g := range m.Games {
		if g.File == "" {
			return fmt.Errorf("game entry without a file")
		}
		if seen[g.File] {
			return fmt.Errorf("game %q: listed twice", g.File)
		}
		seen[g.File] = true
		for _, t := range g.Targets {
			if !t.Valid() {
				return fmt.Errorf("game %q: unknown target %q", g.File, t)
			}
		}
		for _, p := range g.Patches {
			if !patches[p] {
				return fmt.Errorf("game %q: unknown patch %q", g.File, p)
			}
		}
		for _, s := range g.SRAMs {
			if !srams[s] {
				return fmt.Errorf("game %q: unknown SRAM file %q", g.File, s)
			}
		}
		if g.Settings != "" && !defs[g.Settings] {
			return fmt.Errorf("game %q: unknown settings definition %q", g.File, g.Settings)
		}
	}
	return nil
}

// New creates a catalog from a manifest file. An empty path yields an empty
// catalog. names may be nil, in which case renames are kept in memory only.
func New(ctx context.Context, file string, names NameStore) (*Catalog, error) {
	c := &Catalog{path: file, names: names}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromManifest creates a catalog from an in-memory manifest.
func NewFromManifest(ctx context.Context, m *Manifest, names NameStore) (*Catalog, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	c := &Catalog{static: m, names: names}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rereads the manifest and the stored name overrides.
func (c *Catalog) Reload(ctx context.Context) error {
	m := &Manifest{}
	if c.static != nil {
		m = c.static
	} else if c.path != "" {
		loaded, err := LoadManifest(c.path)
		if err != nil {
			return err
		}
		m = loaded
	}
	if err := c.loadOverrides(ctx); err != nil {
		return err
	}
	c.apply(m)
	log.Printf("📚 Catalog loaded: %d games, %d patches, %d SRAM files, %d settings definitions",
		len(m.Games), len(m.Patches), len(m.SRAMs), len(m.Settings))
	return nil
}

func (c *Catalog) apply(m *Manifest) {
	games := make(map[string]GameEntry, len(m.Games))
	for _, g := range m.Games {
		games[g.File] = g
	}
	patches := make(map[string]string, len(m.Patches))
	for _, p := range m.Patches {
		patches[p.File] = p.Name
	}
	srams := make(map[string]string, len(m.SRAMs))
	for _, s := range m.SRAMs {
		srams[s.File] = s.Name
	}
	defs := make(map[string]settings.Collection, len(m.Settings))
	for _, s := range m.Settings {
		defs[s.File] = s.Collection
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.games, c.patches, c.srams, c.defs = games, patches, srams, defs
}

func (c *Catalog) loadOverrides(ctx context.Context) error {
	overrides := make(map[string]map[netboot.Region]string)
	if c.names != nil {
		rows, err := c.names.FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load game names: %w", err)
		}
		for _, row := range rows {
			if overrides[row.File] == nil {
				overrides[row.File] = make(map[netboot.Region]string)
			}
			overrides[row.File][netboot.Region(row.Region)] = row.Name
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = overrides
	return nil
}

// Game returns the manifest entry for file.
func (c *Catalog) Game(file string) (GameEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.games[file]
	return g, ok
}

// GameFiles returns every game file, sorted.
func (c *Catalog) GameFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	files := make([]string, 0, len(c.games))
	for f := range c.games {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// CompatibleGames returns the sorted files of the games that run on target.
func (c *Catalog) CompatibleGames(target netboot.Target) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var files []string
	for f, g := range c.games {
		if runsOn(g, target) {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// Compatible reports whether file runs on target.
func (c *Catalog) Compatible(file string, target netboot.Target) bool {
	g, ok := c.Game(file)
	return ok && runsOn(g, target)
}

func runsOn(g GameEntry, target netboot.Target) bool {
	if len(g.Targets) == 0 {
		return true
	}
	for _, t := range g.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// GameName returns the display name of a game in a region. Operator
// overrides win over manifest names; unnamed games fall back to the file name.
func (c *Catalog) GameName(file string, region netboot.Region) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name := c.overrides[file][region]; name != "" {
		return name
	}
	g := c.games[file]
	if name := g.Names[string(region)]; name != "" {
		return name
	}
	for _, r := range netboot.Regions {
		if name := g.Names[string(r)]; name != "" {
			return name
		}
	}
	return path.Base(file)
}

// GameNames returns the display name of a game in every region.
func (c *Catalog) GameNames(file string) map[netboot.Region]string {
	names := make(map[netboot.Region]string, len(netboot.Regions))
	for _, r := range netboot.Regions {
		names[r] = c.GameName(file, r)
	}
	return names
}

// Rename stores display name overrides for a game.
func (c *Catalog) Rename(ctx context.Context, file string, names map[netboot.Region]string) (map[netboot.Region]string, error) {
	if _, ok := c.Game(file); !ok {
		return nil, ErrUnknownGame
	}
	for region := range names {
		if !region.Valid() {
			return nil, fmt.Errorf("unknown region %q", region)
		}
	}

	for region, name := range names {
		if c.names != nil {
			if _, err := c.names.Upsert(ctx, file, string(region), name); err != nil {
				return nil, fmt.Errorf("failed to save name: %w", err)
			}
		}
		c.mu.Lock()
		if c.overrides[file] == nil {
			c.overrides[file] = make(map[netboot.Region]string)
		}
		c.overrides[file][region] = name
		c.mu.Unlock()
	}
	return c.GameNames(file), nil
}

// PatchName returns the display name of a patch file.
func (c *Catalog) PatchName(file string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name := c.patches[file]; name != "" {
		return name
	}
	return path.Base(file)
}

// SRAMName returns the display name of an SRAM file.
func (c *Catalog) SRAMName(file string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name := c.srams[file]; name != "" {
		return name
	}
	return path.Base(file)
}

// Roms lists every game, grouped by directory.
func (c *Catalog) Roms() []netboot.DirEntry {
	return group(c.GameFiles())
}

// Patches lists every patch file, grouped by directory.
func (c *Catalog) Patches() []netboot.DirEntry {
	c.mu.RLock()
	files := keys(c.patches)
	c.mu.RUnlock()
	return group(files)
}

// SRAMs lists every SRAM file, grouped by directory.
func (c *Catalog) SRAMs() []netboot.DirEntry {
	c.mu.RLock()
	files := keys(c.srams)
	c.mu.RUnlock()
	return group(files)
}

// SettingsFiles lists every settings definition, grouped by directory.
func (c *Catalog) SettingsFiles() []netboot.DirEntry {
	c.mu.RLock()
	files := make([]string, 0, len(c.defs))
	for f := range c.defs {
		files = append(files, f)
	}
	c.mu.RUnlock()
	return group(files)
}

// PatchesFor lists the patches applicable to a game.
func (c *Catalog) PatchesFor(file string) ([]netboot.DirEntry, error) {
	g, ok := c.Game(file)
	if !ok {
		return nil, ErrUnknownGame
	}
	return group(g.Patches), nil
}

// SRAMsFor lists the SRAM files applicable to a game.
func (c *Catalog) SRAMsFor(file string) ([]netboot.DirEntry, error) {
	g, ok := c.Game(file)
	if !ok {
		return nil, ErrUnknownGame
	}
	return group(g.SRAMs), nil
}

// SettingsFor lists the settings definitions applicable to a game.
func (c *Catalog) SettingsFor(file string) ([]netboot.DirEntry, error) {
	g, ok := c.Game(file)
	if !ok {
		return nil, ErrUnknownGame
	}
	if g.Settings == "" {
		return []netboot.DirEntry{}, nil
	}
	return group([]string{g.Settings}), nil
}

// DefaultSettings returns a copy of the settings definition of a game.
func (c *Catalog) DefaultSettings(file string) (settings.Collection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.games[file]
	if !ok || g.Settings == "" {
		return settings.Collection{}, false
	}
	def, ok := c.defs[g.Settings]
	if !ok {
		return settings.Collection{}, false
	}
	return cloneCollection(def), true
}

func cloneCollection(c settings.Collection) settings.Collection {
	c.System.Settings = cloneSettings(c.System.Settings)
	c.Game.Settings = cloneSettings(c.Game.Settings)
	return c
}

func cloneSettings(in []settings.Setting) []settings.Setting {
	out := make([]settings.Setting, len(in))
	for i, s := range in {
		values := make(map[int]string, len(s.Values))
		for k, v := range s.Values {
			values[k] = v
		}
		s.Values = values
		if s.Readonly.Predicate != nil {
			p := *s.Readonly.Predicate
			p.Values = append([]int(nil), p.Values...)
			s.Readonly.Predicate = &p
		}
		out[i] = s
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// group buckets files by directory, sorting directories and files by name.
func group(files []string) []netboot.DirEntry {
	byDir := make(map[string][]string)
	for _, f := range files {
		dir, name := path.Split(f)
		dir = path.Clean(dir)
		byDir[dir] = append(byDir[dir], name)
	}

	entries := make([]netboot.DirEntry, 0, len(byDir))
	for dir, names := range byDir {
		sort.Strings(names)
		entries = append(entries, netboot.DirEntry{Name: dir, Files: names})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
