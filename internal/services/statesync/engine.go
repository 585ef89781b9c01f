package statesync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
)

// Kind names one polled mirror.
type Kind string

const (
	KindCabinets Kind = "cabinets"
	KindCatalog  Kind = "catalog"
	KindDetail   Kind = "detail"
	KindPower    Kind = "power"
)

// Default poll intervals.
const (
	DefaultCabinetInterval = 1000 * time.Millisecond
	DefaultCatalogInterval = 5000 * time.Millisecond
	DefaultDetailInterval  = 1000 * time.Millisecond
	DefaultPowerInterval   = 1000 * time.Millisecond
)

// CatalogListing is the catalog mirror.
type CatalogListing struct {
	Roms     []netboot.DirEntry
	Patches  []netboot.DirEntry
	SRAMs    []netboot.DirEntry
	Settings []netboot.DirEntry
}

// Snapshot is one fetched state: CabinetsSnapshot, CatalogSnapshot,
// DetailSnapshot or PowerSnapshot.
type Snapshot interface {
	Kind() Kind
}

// CabinetsSnapshot is a full cabinet list.
type CabinetsSnapshot struct {
	Cabinets []netboot.Cabinet
}

// CatalogSnapshot is a full catalog listing.
type CatalogSnapshot struct {
	Catalog CatalogListing
}

// DetailSnapshot is the live status of one cabinet.
type DetailSnapshot struct {
	Status netboot.CabinetStatus
}

// PowerSnapshot is the live power state of one cabinet.
type PowerSnapshot struct {
	IP    string
	State outlet.PowerState
}

func (CabinetsSnapshot) Kind() Kind { return KindCabinets }
func (CatalogSnapshot) Kind() Kind  { return KindCatalog }
func (DetailSnapshot) Kind() Kind   { return KindDetail }
func (PowerSnapshot) Kind() Kind    { return KindPower }

// Engine owns the local mirrors. Every write to a mirror goes through Merge
// or one of the mutation methods; readers get copies.
type Engine struct {
	client *Client
	bus    *pubsub.PubSub
	subs   []*pubsub.Subscriber

	mu         sync.RWMutex
	cabinets   []netboot.Cabinet
	catalog    CatalogListing
	details    map[string]netboot.CabinetStatus
	power      map[string]outlet.PowerState
	games      map[string][]netboot.Game
	suppressed bool
	admin      bool

	failMu  sync.Mutex
	failing map[string]bool
}

// NewEngine creates an engine and subscribes it to the bus signals it
// reacts to.
func NewEngine(client *Client, bus *pubsub.PubSub) *Engine {
	e := &Engine{
		client:  client,
		bus:     bus,
		details: make(map[string]netboot.CabinetStatus),
		power:   make(map[string]outlet.PowerState),
		games:   make(map[string][]netboot.Game),
		failing: make(map[string]bool),
	}

	e.subs = []*pubsub.Subscriber{
		bus.Handle(pubsub.TopicSelectingNewGame, "", func(pubsub.Event) { e.BeginSuppression() }),
		bus.Handle(pubsub.TopicSelectedNewGame, "", func(pubsub.Event) { e.EndSuppression() }),
		bus.Handle(pubsub.TopicChangeCabinetType, "", func(ev pubsub.Event) { e.InvalidateGames(ev.Filter) }),
	}
	return e
}

// Close detaches the engine from the bus.
func (e *Engine) Close() {
	for _, sub := range e.subs {
		e.bus.Unsubscribe(sub)
	}
	e.subs = nil
}

// Client returns the underlying server client.
func (e *Engine) Client() *Client {
	return e.client
}

// Task is one running poll loop. Stopping it cancels any outstanding
// request so a late response never reaches the mirror.
type Task struct {
	ID       string
	Kind     Kind
	IP       string
	Interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits for its loop to exit.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed when the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// StartPolling starts a fleet-wide poll: KindCabinets or KindCatalog.
func (e *Engine) StartPolling(ctx context.Context, kind Kind, interval time.Duration) (*Task, error) {
	switch kind {
	case KindCabinets:
		return e.start(ctx, kind, "", interval, e.fetchCabinets), nil
	case KindCatalog:
		return e.start(ctx, kind, "", interval, e.fetchCatalog), nil
	case KindDetail, KindPower:
		return nil, fmt.Errorf("%s polling needs a cabinet; use StartCabinetPolling", kind)
	}
	return nil, fmt.Errorf("unknown poll kind %q", kind)
}

// StartCabinetPolling starts a per-cabinet poll: KindDetail or KindPower.
func (e *Engine) StartCabinetPolling(ctx context.Context, kind Kind, ip string, interval time.Duration) (*Task, error) {
	if !netboot.ValidateIP(ip) {
		return nil, netboot.ValidationErrors{"ip": "invalid IP address"}
	}
	switch kind {
	case KindDetail:
		return e.start(ctx, kind, ip, interval, func(ctx context.Context) (Snapshot, error) {
			st, err := e.client.Status(ctx, ip)
			return DetailSnapshot{Status: st}, err
		}), nil
	case KindPower:
		return e.start(ctx, kind, ip, interval, func(ctx context.Context) (Snapshot, error) {
			state, err := e.client.Power(ctx, ip)
			return PowerSnapshot{IP: ip, State: state}, err
		}), nil
	case KindCabinets, KindCatalog:
		return nil, fmt.Errorf("%s polling is fleet-wide; use StartPolling", kind)
	}
	return nil, fmt.Errorf("unknown poll kind %q", kind)
}

type fetchFunc func(ctx context.Context) (Snapshot, error)

func (e *Engine) start(parent context.Context, kind Kind, ip string, interval time.Duration, fetch fetchFunc) *Task {
	if interval <= 0 {
		interval = defaultInterval(kind)
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		ID:       cuid.New(),
		Kind:     kind,
		IP:       ip,
		Interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer e.forgetFailure(t.ID)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			e.poll(ctx, t, fetch)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return t
}

func defaultInterval(kind Kind) time.Duration {
	switch kind {
	case KindCatalog:
		return DefaultCatalogInterval
	case KindDetail:
		return DefaultDetailInterval
	case KindPower:
		return DefaultPowerInterval
	}
	return DefaultCabinetInterval
}

// poll runs one fetch-and-merge cycle. A failure is logged only when the
// poll starts failing and when it recovers; the next tick retries.
func (e *Engine) poll(ctx context.Context, t *Task, fetch fetchFunc) {
	snap, err := fetch(ctx)
	if ctx.Err() != nil {
		return
	}

	key := string(t.Kind)
	if t.IP != "" {
		key += " " + t.IP
	}
	e.failMu.Lock()
	wasFailing := e.failing[t.ID]
	e.failing[t.ID] = err != nil
	e.failMu.Unlock()

	if err != nil {
		if !wasFailing {
			log.Printf("⚠️  Poll %s (task %s) failed: %v", key, t.ID, err)
		}
		if t.Kind == KindPower {
			e.setPower(t.IP, outlet.PowerUnknown)
		}
		return
	}
	if wasFailing {
		log.Printf("✅ Poll %s (task %s) recovered", key, t.ID)
	}
	e.Merge(snap)
}

func (e *Engine) forgetFailure(taskID string) {
	e.failMu.Lock()
	delete(e.failing, taskID)
	e.failMu.Unlock()
}

// failingTasks returns the number of tasks whose last poll failed.
func (e *Engine) failingTasks() int {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	n := 0
	for _, failing := range e.failing {
		if failing {
			n++
		}
	}
	return n
}

func (e *Engine) fetchCabinets(ctx context.Context) (Snapshot, error) {
	cabinets, err := e.client.List(ctx)
	return CabinetsSnapshot{Cabinets: cabinets}, err
}

func (e *Engine) fetchCatalog(ctx context.Context) (Snapshot, error) {
	var c CatalogListing
	var err error
	if c.Roms, err = e.client.Roms(ctx); err != nil {
		return nil, err
	}
	if c.Patches, err = e.client.Patches(ctx); err != nil {
		return nil, err
	}
	if c.SRAMs, err = e.client.SRAMs(ctx); err != nil {
		return nil, err
	}
	if c.Settings, err = e.client.Settings(ctx); err != nil {
		return nil, err
	}
	return CatalogSnapshot{Catalog: c}, nil
}

// Refresh fetches and merges one fleet-wide snapshot immediately.
func (e *Engine) Refresh(ctx context.Context, kind Kind) error {
	var snap Snapshot
	var err error
	switch kind {
	case KindCabinets:
		snap, err = e.fetchCabinets(ctx)
	case KindCatalog:
		snap, err = e.fetchCatalog(ctx)
	default:
		return fmt.Errorf("cannot refresh %s without a cabinet", kind)
	}
	if err != nil {
		return err
	}
	e.Merge(snap)
	return nil
}

// Merge replaces the mirror for the snapshot's kind. While suppression is
// active a cabinet list is discarded. It reports whether the mirror changed.
func (e *Engine) Merge(snap Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := snap.(type) {
	case CabinetsSnapshot:
		if e.suppressed {
			return false
		}
		e.cabinets = append([]netboot.Cabinet(nil), s.Cabinets...)
		for _, c := range s.Cabinets {
			e.power[c.IP] = c.PowerState
		}
		return true
	case CatalogSnapshot:
		e.catalog = s.Catalog
		return true
	case DetailSnapshot:
		e.details[s.Status.IP] = s.Status
		return true
	case PowerSnapshot:
		e.recordPower(s.IP, s.State)
		return true
	}
	return false
}

// BeginSuppression stops cabinet list snapshots from reaching the mirror.
// It is one flag for the whole list, not per cabinet.
func (e *Engine) BeginSuppression() {
	e.mu.Lock()
	e.suppressed = true
	e.mu.Unlock()
}

// EndSuppression lets the next cabinet list snapshot through.
func (e *Engine) EndSuppression() {
	e.mu.Lock()
	e.suppressed = false
	e.mu.Unlock()
}

// Suppressed reports whether cabinet list merges are suppressed.
func (e *Engine) Suppressed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.suppressed
}

// Cabinets returns a copy of the cabinet mirror.
func (e *Engine) Cabinets() []netboot.Cabinet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]netboot.Cabinet(nil), e.cabinets...)
}

// Cabinet returns one cabinet from the mirror.
func (e *Engine) Cabinet(ip string) (netboot.Cabinet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.cabinets {
		if c.IP == ip {
			return c, true
		}
	}
	return netboot.Cabinet{}, false
}

// Catalog returns the catalog mirror.
func (e *Engine) Catalog() CatalogListing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Detail returns the last polled live status of a cabinet.
func (e *Engine) Detail(ip string) (netboot.CabinetStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.details[ip]
	return st, ok
}

// PowerState returns the last known power state of a cabinet.
func (e *Engine) PowerState(ip string) outlet.PowerState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if state, ok := e.power[ip]; ok {
		return state
	}
	return outlet.PowerDisabled
}

// Admin reports whether admin mode is on.
func (e *Engine) Admin() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// SetAdminMode toggles admin mode and tells views to redraw their controls.
func (e *Engine) SetAdminMode(on bool) {
	e.mu.Lock()
	e.admin = on
	e.mu.Unlock()
	e.bus.Publish(pubsub.TopicChangeConfigButtons, "", on)
}

// replaceCabinet stores a server response in the mirror, keeping it sorted
// by description. Callers hold e.mu.
func (e *Engine) replaceCabinet(cab netboot.Cabinet) {
	found := false
	for i := range e.cabinets {
		if e.cabinets[i].IP == cab.IP {
			e.cabinets[i] = cab
			found = true
			break
		}
	}
	if !found {
		e.cabinets = append(e.cabinets, cab)
	}
	sort.SliceStable(e.cabinets, func(i, j int) bool { return e.cabinets[i].Description < e.cabinets[j].Description })
	e.power[cab.IP] = cab.PowerState
}

// CreateCabinet registers a cabinet and adds it to the mirror.
func (e *Engine) CreateCabinet(ctx context.Context, nc netboot.NewCabinet) (netboot.Cabinet, error) {
	cab, err := e.client.Create(ctx, nc)
	if err != nil {
		return netboot.Cabinet{}, err
	}
	e.mu.Lock()
	e.replaceCabinet(cab)
	e.mu.Unlock()
	return cab, nil
}

// MutateCabinet submits a partial update and replaces the mirrored record
// with the server's answer. A target change publishes changeCabinetType so
// target-dependent caches are refetched.
func (e *Engine) MutateCabinet(ctx context.Context, ip string, u netboot.CabinetUpdate) (netboot.Cabinet, error) {
	before, known := e.Cabinet(ip)

	cab, err := e.client.Update(ctx, ip, u)
	if err != nil {
		return netboot.Cabinet{}, err
	}

	e.mu.Lock()
	e.replaceCabinet(cab)
	e.mu.Unlock()

	if (known && before.Target != cab.Target) || (!known && u.Target != nil) {
		e.bus.Publish(pubsub.TopicChangeCabinetType, ip, cab.Target)
	}
	return cab, nil
}

// RemoveCabinet deletes a cabinet and drops it from every mirror.
func (e *Engine) RemoveCabinet(ctx context.Context, ip string) error {
	if err := e.client.Remove(ctx, ip); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.cabinets {
		if e.cabinets[i].IP == ip {
			e.cabinets = append(e.cabinets[:i:i], e.cabinets[i+1:]...)
			break
		}
	}
	delete(e.details, ip)
	delete(e.power, ip)
	delete(e.games, ip)
	return nil
}

// QueryInfo reads firmware metadata from a cabinet. It is refused without
// a request while the cabinet is off, booting or receiving a game.
func (e *Engine) QueryInfo(ctx context.Context, ip string) (netboot.Info, error) {
	status, ok := e.status(ip)
	if !ok {
		return netboot.Info{}, ErrUnknownCabinet
	}
	if !status.Reachable() {
		return netboot.Info{}, fmt.Errorf("%w: %s", ErrUnreachable, status)
	}
	return e.client.Info(ctx, ip)
}

// status prefers the per-cabinet detail poll, which is fresher than the list.
func (e *Engine) status(ip string) (netboot.Status, bool) {
	if st, ok := e.Detail(ip); ok {
		return st.Status, true
	}
	if cab, ok := e.Cabinet(ip); ok {
		return cab.Status, true
	}
	return "", false
}

// Games returns the per-cabinet game availability, fetching it when not cached.
func (e *Engine) Games(ctx context.Context, ip string) ([]netboot.Game, error) {
	e.mu.RLock()
	cached, ok := e.games[ip]
	e.mu.RUnlock()
	if ok {
		return append([]netboot.Game(nil), cached...), nil
	}

	games, err := e.client.Games(ctx, ip)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.games[ip] = games
	e.mu.Unlock()
	return append([]netboot.Game(nil), games...), nil
}

// SaveGames saves per-cabinet game availability and caches the answer.
func (e *Engine) SaveGames(ctx context.Context, ip string, games []netboot.Game) ([]netboot.Game, error) {
	saved, err := e.client.UpdateGames(ctx, ip, games)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.games[ip] = saved
	e.mu.Unlock()
	return append([]netboot.Game(nil), saved...), nil
}

// InvalidateGames drops a cabinet's cached game availability; an empty ip
// drops every cabinet's.
func (e *Engine) InvalidateGames(ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ip == "" {
		e.games = make(map[string][]netboot.Game)
		return
	}
	delete(e.games, ip)
}

// GamesCached reports whether a cabinet's game availability is cached.
func (e *Engine) GamesCached(ip string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.games[ip]
	return ok
}

// SetPower commands a cabinet's outlet with the engine's admin mode and
// returns the cabinet with its new power state. A hardware or transport
// failure moves the mirrored state to unknown; a refusal leaves it alone.
func (e *Engine) SetPower(ctx context.Context, ip string, on bool) (netboot.Cabinet, error) {
	state, err := e.client.SetPower(ctx, ip, on, e.Admin())
	switch {
	case err == nil:
		e.setPower(ip, state)
	case IsTransport(err), IsCode(err, "unavailable"):
		e.setPower(ip, outlet.PowerUnknown)
	}

	cab, ok := e.Cabinet(ip)
	if err != nil {
		return cab, err
	}
	if !ok {
		return netboot.Cabinet{}, ErrUnknownCabinet
	}
	return cab, nil
}

func (e *Engine) setPower(ip string, state outlet.PowerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordPower(ip, state)
}

// recordPower updates both the power mirror and the cabinet's record.
// Callers hold e.mu.
func (e *Engine) recordPower(ip string, state outlet.PowerState) {
	e.power[ip] = state
	for i := range e.cabinets {
		if e.cabinets[i].IP == ip {
			e.cabinets[i].PowerState = state
			return
		}
	}
}

// SetOutletConfig saves an outlet with its controllable and power cycle
// flags as one unit and returns the updated cabinet.
func (e *Engine) SetOutletConfig(ctx context.Context, ip string, u netboot.OutletUpdate) (netboot.Cabinet, error) {
	saved, err := e.client.SetOutlet(ctx, ip, u)
	if err != nil {
		return netboot.Cabinet{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.power[ip] = saved.PowerState
	for i := range e.cabinets {
		if e.cabinets[i].IP == ip {
			e.cabinets[i].Outlet = saved.Outlet
			e.cabinets[i].Controllable = saved.Controllable
			e.cabinets[i].PowerCycle = saved.PowerCycle
			e.cabinets[i].PowerState = saved.PowerState
			return e.cabinets[i], nil
		}
	}
	return netboot.Cabinet{}, ErrUnknownCabinet
}

// Recalculate asks the server to rescan patches and SRAM files, then
// refetches the catalog.
func (e *Engine) Recalculate(ctx context.Context) error {
	if _, err := e.client.RecalculatePatches(ctx, ""); err != nil {
		return err
	}
	if _, err := e.client.RecalculateSRAMs(ctx, ""); err != nil {
		return err
	}
	return e.Refresh(ctx, KindCatalog)
}
