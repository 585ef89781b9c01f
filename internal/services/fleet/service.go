// Package fleet is the authoritative cabinet registry. It persists cabinet
// records, derives the client-visible view of each cabinet from the game
// catalog, drives outlets and announces every change on the event bus.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/bbernstein/netboot-go/internal/database/models"
	"github.com/bbernstein/netboot-go/internal/database/repositories"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/catalog"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
	"github.com/bbernstein/netboot-go/pkg/netdimm"
)

// NoGameSelected is the display name of a cabinet without a selected game.
const NoGameSelected = "no game selected"

var (
	// ErrNotFound is returned for an unknown cabinet IP.
	ErrNotFound = errors.New("cabinet not found")
	// ErrExists is returned when creating a cabinet whose IP is registered.
	ErrExists = errors.New("cabinet already exists")
)

// Prober reads firmware metadata from a cabinet.
type Prober interface {
	Info(ctx context.Context, host string) (netdimm.Info, error)
}

// Options configures a Service.
type Options struct {
	// InitialStatus is the status of a newly created or re-enabled cabinet.
	InitialStatus netboot.Status
}

// Service manages the cabinet registry.
type Service struct {
	cabinets *repositories.CabinetRepository
	games    *repositories.CabinetGameRepository
	catalog  *catalog.Catalog
	outlets  *outlet.Service
	prober   Prober
	bus      *pubsub.PubSub

	initialStatus netboot.Status

	// mu serializes read-modify-write cycles on cabinet rows.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new fleet service.
func NewService(db *gorm.DB, cat *catalog.Catalog, outlets *outlet.Service, prober Prober, bus *pubsub.PubSub, opts Options) *Service {
	if opts.InitialStatus == "" {
		opts.InitialStatus = netboot.StatusStartup
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cabinets:      repositories.NewCabinetRepository(db),
		games:         repositories.NewCabinetGameRepository(db),
		catalog:       cat,
		outlets:       outlets,
		prober:        prober,
		bus:           bus,
		initialStatus: opts.InitialStatus,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Close cancels background power cycles and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Catalog returns the catalog the registry resolves games against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// List returns every cabinet, sorted by description.
func (s *Service) List(ctx context.Context) ([]netboot.Cabinet, error) {
	rows, err := s.cabinets.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cabinets: %w", err)
	}

	cabinets := make([]netboot.Cabinet, 0, len(rows))
	for i := range rows {
		cab, err := s.view(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		cabinets = append(cabinets, cab)
	}
	return cabinets, nil
}

// Get returns one cabinet.
func (s *Service) Get(ctx context.Context, ip string) (netboot.Cabinet, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return netboot.Cabinet{}, err
	}
	return s.view(ctx, row)
}

// Status returns the live status and progress of one cabinet.
func (s *Service) Status(ctx context.Context, ip string) (netboot.CabinetStatus, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return netboot.CabinetStatus{}, err
	}
	return netboot.CabinetStatus{IP: row.IP, Status: netboot.Status(row.Status), Progress: row.Progress}, nil
}

// Create registers a cabinet with every catalog game enabled.
func (s *Service) Create(ctx context.Context, nc netboot.NewCabinet) (netboot.Cabinet, error) {
	if err := nc.Validate(); err != nil {
		return netboot.Cabinet{}, err
	}

	s.mu.Lock()
	exists, err := s.cabinets.Exists(ctx, nc.IP)
	if err != nil {
		s.mu.Unlock()
		return netboot.Cabinet{}, fmt.Errorf("failed to check cabinet: %w", err)
	}
	if exists {
		s.mu.Unlock()
		return netboot.Cabinet{}, ErrExists
	}

	row := &models.Cabinet{
		IP:          nc.IP,
		Description: strings.TrimSpace(nc.Description),
		Region:      string(nc.Region),
		Target:      string(nc.Target),
		Version:     nc.Version,
		Enabled:     true,
		TimeHack:    nc.TimeHack,
		SendTimeout: nc.SendTimeout,
		Status:      string(s.initialStatus),
		Outlet:      encodeOutlet(outlet.None{}),
		PowerState:  string(outlet.PowerDisabled),
	}

	files := s.catalog.GameFiles()
	games := make([]models.CabinetGame, 0, len(files))
	for _, f := range files {
		games = append(games, models.CabinetGame{File: f, Patches: "[]"})
	}

	err = s.cabinets.CreateWithGames(ctx, row, games)
	s.mu.Unlock()
	if err != nil {
		return netboot.Cabinet{}, fmt.Errorf("failed to create cabinet: %w", err)
	}

	log.Printf("🕹️  Cabinet %s (%s) registered", row.IP, row.Description)
	s.publish(ctx)
	return s.view(ctx, row)
}

// Update applies a partial update. Changing the target drops a send timeout
// that merely matched the old target's default, and disabling a cabinet
// forces its status to disabled.
func (s *Service) Update(ctx context.Context, ip string, u netboot.CabinetUpdate) (netboot.Cabinet, error) {
	if err := u.Validate(); err != nil {
		return netboot.Cabinet{}, err
	}

	s.mu.Lock()
	row, err := s.find(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return netboot.Cabinet{}, err
	}

	if u.Description != nil {
		row.Description = strings.TrimSpace(*u.Description)
	}
	if u.Region != nil {
		row.Region = string(*u.Region)
	}
	if u.Version != nil {
		row.Version = *u.Version
	}
	if u.TimeHack != nil {
		row.TimeHack = *u.TimeHack
	}
	if u.Target != nil && string(*u.Target) != row.Target {
		old := netboot.Target(row.Target)
		if row.SendTimeout != nil && *row.SendTimeout == old.DefaultSendTimeout() {
			row.SendTimeout = nil
		}
		row.Target = string(*u.Target)
		if row.Filename != nil && !s.catalog.Compatible(*row.Filename, *u.Target) {
			row.Filename = nil
		}
	}
	if u.ClearSendTimeout {
		row.SendTimeout = nil
	}
	if u.SendTimeout != nil {
		v := *u.SendTimeout
		row.SendTimeout = &v
	}
	if u.Enabled != nil && *u.Enabled != row.Enabled {
		row.Enabled = *u.Enabled
		if row.Enabled {
			row.Status = string(s.initialStatus)
			row.Progress = 0
			if decodeOutlet(row.Outlet).Configured() {
				row.PowerState = string(outlet.PowerUnknown)
			}
		} else {
			row.Status = string(netboot.StatusDisabled)
			row.Progress = 0
			row.PowerState = string(outlet.PowerDisabled)
		}
	}

	err = s.cabinets.Update(ctx, row)
	s.mu.Unlock()
	if err != nil {
		return netboot.Cabinet{}, fmt.Errorf("failed to update cabinet: %w", err)
	}

	s.publish(ctx)
	return s.view(ctx, row)
}

// Remove deletes a cabinet and its game state.
func (s *Service) Remove(ctx context.Context, ip string) error {
	s.mu.Lock()
	exists, err := s.cabinets.Exists(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to check cabinet: %w", err)
	}
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	err = s.cabinets.Delete(ctx, ip)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to remove cabinet: %w", err)
	}

	log.Printf("🗑️  Cabinet %s removed", ip)
	s.publish(ctx)
	return nil
}

// SelectGame sets the game a cabinet boots. An empty filename clears the
// selection. When the cabinet power cycles on game change, the outlet is
// cycled in the background and the status reads power_cycle until it ends.
func (s *Service) SelectGame(ctx context.Context, ip string, filename string) (netboot.Cabinet, error) {
	s.mu.Lock()
	row, err := s.find(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return netboot.Cabinet{}, err
	}

	if filename == "" {
		row.Filename = nil
	} else {
		offered, err := s.games.FindOne(ctx, ip, filename)
		if err != nil {
			s.mu.Unlock()
			return netboot.Cabinet{}, fmt.Errorf("failed to load game: %w", err)
		}
		if offered == nil || !s.catalog.Compatible(filename, netboot.Target(row.Target)) {
			s.mu.Unlock()
			return netboot.Cabinet{}, netboot.ValidationErrors{"filename": "game is not offered to this cabinet"}
		}
		f := filename
		row.Filename = &f
	}

	binding := bindingOf(row)
	cycle := row.Filename != nil && binding.Enabled && binding.PowerCycle && binding.Configured()
	if cycle {
		row.Status = string(netboot.StatusPowerCycle)
		row.Progress = 0
	}

	err = s.cabinets.Update(ctx, row)
	s.mu.Unlock()
	if err != nil {
		return netboot.Cabinet{}, fmt.Errorf("failed to select game: %w", err)
	}

	if cycle {
		s.wg.Add(1)
		go s.powerCycle(ip, binding)
	}

	s.publish(ctx)
	return s.view(ctx, row)
}

// powerCycle runs the off and on legs of a game-change power cycle. The row
// lock is held from the on leg until the result is recorded, so a cabinet
// disabled or rebound while its outlet was off is left alone.
func (s *Service) powerCycle(ip string, binding outlet.Binding) {
	defer s.wg.Done()

	log.Printf("🔌 Power cycling cabinet %s", ip)
	locked := false
	resume := func() bool {
		s.mu.Lock()
		locked = true
		return s.stillBound(ip, binding)
	}
	state, err := s.outlets.PowerCycle(s.ctx, binding, resume)
	if !locked {
		s.mu.Lock()
	}

	row, findErr := s.cabinets.FindByIP(context.Background(), ip)
	if findErr != nil || row == nil || !row.Enabled {
		s.mu.Unlock()
		log.Printf("⚠️  Power cycle of %s abandoned: cabinet removed or disabled", ip)
		return
	}

	fields := map[string]interface{}{
		"status":   string(netboot.StatusStartup),
		"progress": 0,
	}
	switch {
	case errors.Is(err, outlet.ErrCycleAborted) || bindingOf(row) != binding:
		log.Printf("⚠️  Power cycle of %s abandoned: outlet changed", ip)
	case err != nil:
		log.Printf("⚠️  Power cycle of %s failed: %v", ip, err)
		fields["power_state"] = string(outlet.PowerUnknown)
	default:
		fields["power_state"] = string(state)
	}

	err = s.cabinets.UpdateFields(context.Background(), ip, fields)
	s.mu.Unlock()
	if err != nil {
		log.Printf("⚠️  Failed to record power cycle of %s: %v", ip, err)
		return
	}
	s.publish(context.Background())
}

// stillBound reports whether a cabinet is enabled and still bound to the
// outlet a power cycle started with. Callers hold s.mu.
func (s *Service) stillBound(ip string, binding outlet.Binding) bool {
	row, err := s.cabinets.FindByIP(context.Background(), ip)
	return err == nil && row != nil && row.Enabled && bindingOf(row) == binding
}

// ReportStatus records a status reported by the boot subsystem.
func (s *Service) ReportStatus(ctx context.Context, ip string, status netboot.Status, progress int) (netboot.CabinetStatus, error) {
	errs := netboot.ValidationErrors{}
	if !status.Valid() {
		errs["status"] = "unknown status"
	}
	if progress < 0 || progress > 100 {
		errs["progress"] = "progress must be between 0 and 100"
	}
	if err := errs.OrNil(); err != nil {
		return netboot.CabinetStatus{}, err
	}

	s.mu.Lock()
	row, err := s.find(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return netboot.CabinetStatus{}, err
	}
	if !row.Enabled && status != netboot.StatusDisabled {
		s.mu.Unlock()
		return netboot.CabinetStatus{}, netboot.ValidationErrors{"status": "cabinet is disabled"}
	}
	if status != netboot.StatusSendGame {
		progress = 0
	}
	err = s.cabinets.UpdateFields(ctx, ip, map[string]interface{}{
		"status":   string(status),
		"progress": progress,
	})
	s.mu.Unlock()
	if err != nil {
		return netboot.CabinetStatus{}, fmt.Errorf("failed to record status: %w", err)
	}

	s.publish(ctx)
	return netboot.CabinetStatus{IP: ip, Status: status, Progress: progress}, nil
}

// Info probes a cabinet for firmware metadata. A cabinet that is off,
// booting or receiving a game is not probed and reports unavailable.
func (s *Service) Info(ctx context.Context, ip string) (netboot.Info, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return netboot.Info{}, err
	}
	if !row.Enabled || !netboot.Status(row.Status).Reachable() || s.prober == nil {
		return netboot.Info{}, nil
	}

	info, err := s.prober.Info(ctx, ip)
	if err != nil {
		log.Printf("⚠️  Info probe of %s failed: %v", ip, err)
		return netboot.Info{}, nil
	}
	return netboot.Info{
		Version:   info.Version,
		MemSize:   info.DimmMemoryMB,
		MemAvail:  info.GameMemoryMB,
		Available: true,
	}, nil
}

// RenameRom stores display names for a game and republishes the fleet.
func (s *Service) RenameRom(ctx context.Context, file string, names map[netboot.Region]string) (map[netboot.Region]string, error) {
	updated, err := s.catalog.Rename(ctx, file, names)
	if err != nil {
		return nil, err
	}
	s.publish(ctx)
	return updated, nil
}

// Recalculate reloads the catalog and republishes the fleet.
func (s *Service) Recalculate(ctx context.Context) error {
	if err := s.catalog.Reload(ctx); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

func (s *Service) find(ctx context.Context, ip string) (*models.Cabinet, error) {
	row, err := s.cabinets.FindByIP(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to load cabinet: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// publish announces the current cabinet list.
func (s *Service) publish(ctx context.Context) {
	if s.bus == nil {
		return
	}
	cabinets, err := s.List(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to publish cabinet list: %v", err)
		return
	}
	s.bus.Publish(pubsub.TopicCabinetsUpdated, "", cabinets)
}
