package outlet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// PowerState is the last known power state of a cabinet's outlet.
type PowerState string

const (
	// PowerDisabled means no outlet is configured or the cabinet is unmanaged.
	PowerDisabled PowerState = "disabled"
	// PowerUnknown means an outlet is configured but could not be read or driven.
	PowerUnknown PowerState = "unknown"
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
)

// Valid reports whether p is one of the defined states.
func (p PowerState) Valid() bool {
	switch p {
	case PowerDisabled, PowerUnknown, PowerOn, PowerOff:
		return true
	}
	return false
}

var (
	// ErrNotConfigured is returned when commanding a cabinet without an outlet.
	ErrNotConfigured = errors.New("no outlet configured")
	// ErrNotControllable is returned when a non-admin caller commands a cabinet
	// whose power is not end-user controllable.
	ErrNotControllable = errors.New("outlet is not user controllable")
	// ErrCycleAborted is returned when a power cycle stops after the off leg.
	ErrCycleAborted = errors.New("power cycle aborted")
)

// Driver reads and drives one physical outlet.
type Driver interface {
	State(ctx context.Context) (bool, error)
	SetState(ctx context.Context, on bool) error
}

// DriverFactory builds the driver for a config.
type DriverFactory func(c Config) (Driver, error)

// Binding is a cabinet's outlet and the flags that are saved with it.
type Binding struct {
	Enabled      bool
	Controllable bool
	PowerCycle   bool
	Outlet       Config
}

// Configured reports whether the binding has a real outlet.
func (b Binding) Configured() bool {
	return b.Outlet != nil && b.Outlet.Type() != TypeNone
}

// Normalize clears the flags that have no meaning without an outlet.
func (b Binding) Normalize() Binding {
	if b.Outlet == nil {
		b.Outlet = None{}
	}
	if !b.Configured() {
		b.Controllable = false
		b.PowerCycle = false
	}
	return b
}

// ServiceConfig holds outlet service configuration.
type ServiceConfig struct {
	Timeout    time.Duration // per query/command
	CycleDelay time.Duration // off time during a power cycle
	HTTPClient *http.Client
	SNMPDialer SNMPDialer
}

// Service validates, queries and commands outlets.
type Service struct {
	factory    DriverFactory
	timeout    time.Duration
	cycleDelay time.Duration
}

// NewService creates a new outlet service with the real protocol drivers.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = 3 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	s := &Service{
		timeout:    cfg.Timeout,
		cycleDelay: cfg.CycleDelay,
	}
	s.factory = func(c Config) (Driver, error) {
		switch oc := c.(type) {
		case AP7900:
			return newSNMPDriver(apcConfig(oc), cfg.SNMPDialer, cfg.Timeout), nil
		case SNMP:
			return newSNMPDriver(oc, cfg.SNMPDialer, cfg.Timeout), nil
		case NP02B:
			return newNP02BDriver(oc, cfg.HTTPClient), nil
		case None, nil:
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("unsupported outlet type %T", c)
	}
	return s
}

// NewServiceWithFactory creates a service with custom drivers.
func NewServiceWithFactory(factory DriverFactory, cycleDelay time.Duration) *Service {
	return &Service{factory: factory, timeout: 2 * time.Second, cycleDelay: cycleDelay}
}

// QueryPowerState reads the live power state. It never returns a stale
// on/off value: any failure reports PowerUnknown.
func (s *Service) QueryPowerState(ctx context.Context, b Binding) PowerState {
	if !b.Enabled || !b.Configured() {
		return PowerDisabled
	}
	driver, err := s.factory(b.Outlet)
	if err != nil {
		log.Printf("⚠️  Outlet %s: %v", b.Outlet.Type(), err)
		return PowerUnknown
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	on, err := driver.State(ctx)
	if err != nil {
		log.Printf("⚠️  Outlet query failed: %v", err)
		return PowerUnknown
	}
	return stateOf(on)
}

// SetPower commands the outlet on or off. Non-admin callers may only command
// controllable cabinets. On a hardware failure the returned state is
// PowerUnknown together with the error; a refused command returns an empty
// state so the caller keeps its last known value.
func (s *Service) SetPower(ctx context.Context, b Binding, on, admin bool) (PowerState, error) {
	if !b.Enabled || !b.Configured() {
		return PowerDisabled, ErrNotConfigured
	}
	if !admin && !b.Controllable {
		return "", ErrNotControllable
	}
	driver, err := s.factory(b.Outlet)
	if err != nil {
		return PowerUnknown, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := driver.SetState(ctx, on); err != nil {
		return PowerUnknown, fmt.Errorf("set power: %w", err)
	}
	return stateOf(on), nil
}

// PowerCycle turns the outlet off, waits, and turns it back on. The caller
// is responsible for having checked that power cycling is enabled. resume,
// when set, runs before the on leg; if it returns false the outlet stays off
// and ErrCycleAborted is returned.
func (s *Service) PowerCycle(ctx context.Context, b Binding, resume func() bool) (PowerState, error) {
	if state, err := s.SetPower(ctx, b, false, true); err != nil {
		return state, err
	}

	select {
	case <-ctx.Done():
		return PowerOff, ctx.Err()
	case <-time.After(s.cycleDelay):
	}

	if resume != nil && !resume() {
		return PowerOff, ErrCycleAborted
	}
	return s.SetPower(ctx, b, true, true)
}

func stateOf(on bool) PowerState {
	if on {
		return PowerOn
	}
	return PowerOff
}
