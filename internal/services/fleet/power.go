package fleet

import (
	"context"
	"fmt"
	"log"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

// Power queries the live power state of a cabinet and records it.
func (s *Service) Power(ctx context.Context, ip string) (outlet.PowerState, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return "", err
	}

	state := s.outlets.QueryPowerState(ctx, bindingOf(row))
	if string(state) != row.PowerState {
		s.recordPower(ctx, ip, state)
	}
	return state, nil
}

// SetPower turns a cabinet on or off. A refused command leaves the recorded
// state alone; a failed one records unknown.
func (s *Service) SetPower(ctx context.Context, ip string, on, admin bool) (outlet.PowerState, error) {
	row, err := s.find(ctx, ip)
	if err != nil {
		return "", err
	}

	state, err := s.outlets.SetPower(ctx, bindingOf(row), on, admin)
	if state != "" && string(state) != row.PowerState {
		s.recordPower(ctx, ip, state)
	}
	if err != nil {
		return state, err
	}

	log.Printf("🔌 Cabinet %s powered %s", ip, state)
	return state, nil
}

// SetOutlet saves an outlet together with its controllable and power cycle
// flags. The power state becomes unknown until the next query, or disabled
// when no outlet is configured.
func (s *Service) SetOutlet(ctx context.Context, ip string, u netboot.OutletUpdate) (netboot.OutletState, error) {
	cfg, fieldErrs := outlet.Parse(u.Outlet)
	if fieldErrs != nil {
		return netboot.OutletState{}, fieldErrs
	}

	s.mu.Lock()
	row, err := s.find(ctx, ip)
	if err != nil {
		s.mu.Unlock()
		return netboot.OutletState{}, err
	}

	b := outlet.Binding{
		Enabled:      row.Enabled,
		Controllable: u.Controllable,
		PowerCycle:   u.PowerCycle,
		Outlet:       cfg,
	}.Normalize()

	state := outlet.PowerDisabled
	if b.Enabled && b.Configured() {
		state = outlet.PowerUnknown
	}

	err = s.cabinets.UpdateFields(ctx, ip, map[string]interface{}{
		"outlet":       encodeOutlet(b.Outlet),
		"controllable": b.Controllable,
		"power_cycle":  b.PowerCycle,
		"power_state":  string(state),
	})
	s.mu.Unlock()
	if err != nil {
		return netboot.OutletState{}, fmt.Errorf("failed to save outlet: %w", err)
	}

	log.Printf("🔌 Cabinet %s outlet set to %s", ip, b.Outlet.Type())
	s.publish(ctx)
	return netboot.OutletState{
		Outlet:       outlet.Spec{Config: b.Outlet},
		Controllable: b.Controllable,
		PowerCycle:   b.PowerCycle,
		PowerState:   state,
	}, nil
}

func (s *Service) recordPower(ctx context.Context, ip string, state outlet.PowerState) {
	if err := s.cabinets.UpdateFields(ctx, ip, map[string]interface{}{"power_state": string(state)}); err != nil {
		log.Printf("⚠️  Failed to record power state of %s: %v", ip, err)
		return
	}
	s.publish(ctx)
}
