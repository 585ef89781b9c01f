// Package netboot defines the cabinet, game and patch records exchanged
// between the fleet server and its clients.
package netboot

import (
	"time"

	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/validate"
)

// AdminTokenHeader carries the admin token on privileged power commands.
const AdminTokenHeader = "X-Admin-Token"

// Status is the boot/transfer state of a cabinet as reported by the server.
type Status string

const (
	StatusTurnedOff    Status = "turned_off"
	StatusStartup      Status = "startup"
	StatusWaitPowerOn  Status = "wait_power_on"
	StatusCheckGame    Status = "check_game"
	StatusSendGame     Status = "send_game"
	StatusWaitPowerOff Status = "wait_power_off"
	StatusPowerCycle   Status = "power_cycle"
	StatusDisabled     Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTurnedOff, StatusStartup, StatusWaitPowerOn, StatusCheckGame,
		StatusSendGame, StatusWaitPowerOff, StatusPowerCycle, StatusDisabled:
		return true
	}
	return false
}

// Reachable reports whether the cabinet can be asked for firmware info.
// A cabinet that is off, booting or mid-transfer cannot answer.
func (s Status) Reachable() bool {
	switch s {
	case StatusTurnedOff, StatusPowerCycle, StatusSendGame, StatusStartup, StatusWaitPowerOn:
		return false
	}
	return true
}

// Target is the cabinet hardware family.
type Target string

const (
	TargetNaomi    Target = "naomi"
	TargetChihiro  Target = "chihiro"
	TargetTriforce Target = "triforce"
)

// Targets lists the supported hardware families.
var Targets = []Target{TargetNaomi, TargetChihiro, TargetTriforce}

// Valid reports whether t is a known target.
func (t Target) Valid() bool {
	_, ok := defaultSendTimeouts[t]
	return ok
}

var defaultSendTimeouts = map[Target]int{
	TargetNaomi:    15,
	TargetChihiro:  40,
	TargetTriforce: 40,
}

// DefaultSendTimeout returns the transfer timeout used when a cabinet does
// not override it.
func (t Target) DefaultSendTimeout() int {
	if secs, ok := defaultSendTimeouts[t]; ok {
		return secs
	}
	return defaultSendTimeouts[TargetNaomi]
}

// SendTimeoutDuration returns the effective transfer timeout for a cabinet.
func SendTimeoutDuration(t Target, override *int) time.Duration {
	if override != nil && *override > 0 {
		return time.Duration(*override) * time.Second
	}
	return time.Duration(t.DefaultSendTimeout()) * time.Second
}

// Region is the cabinet's BIOS region; it selects localized game names.
type Region string

const (
	RegionJapan     Region = "japan"
	RegionUSA       Region = "usa"
	RegionExport    Region = "export"
	RegionKorea     Region = "korea"
	RegionAustralia Region = "australia"
)

// Regions lists every region in display order.
var Regions = []Region{RegionJapan, RegionUSA, RegionExport, RegionKorea, RegionAustralia}

// Valid reports whether r is a known region.
func (r Region) Valid() bool {
	for _, known := range Regions {
		if r == known {
			return true
		}
	}
	return false
}

// Versions lists the NetDimm firmware versions offered to operators.
var Versions = []string{"1.02", "2.03", "2.06", "2.13", "2.17", "3.01", "3.03", "3.12", "3.17", "4.01", "4.02"}

// GameOption is one selectable game in a cabinet's menu.
type GameOption struct {
	File string `json:"file"`
	Name string `json:"name"`
}

// Cabinet is the full client-visible record for one cabinet.
type Cabinet struct {
	IP           string            `json:"ip"`
	Description  string            `json:"description"`
	Region       Region            `json:"region"`
	Game         string            `json:"game"`
	Filename     *string           `json:"filename"`
	Options      []GameOption      `json:"options"`
	Target       Target            `json:"target"`
	Version      string            `json:"version"`
	Status       Status            `json:"status"`
	Progress     int               `json:"progress"`
	Enabled      bool              `json:"enabled"`
	TimeHack     bool              `json:"time_hack"`
	SendTimeout  *int              `json:"send_timeout"`
	PowerState   outlet.PowerState `json:"power_state"`
	Controllable bool              `json:"controllable"`
	PowerCycle   bool              `json:"power_cycle"`
	Outlet       outlet.Spec       `json:"outlet"`
}

// Binding returns the outlet binding saved with the cabinet.
func (c Cabinet) Binding() outlet.Binding {
	return outlet.Binding{
		Enabled:      c.Enabled,
		Controllable: c.Controllable,
		PowerCycle:   c.PowerCycle,
		Outlet:       c.Outlet.Config,
	}.Normalize()
}

// CabinetStatus is the live part of a cabinet, served by GET /cabinets/{ip}.
type CabinetStatus struct {
	IP       string `json:"ip"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
}

// NewCabinet is the create payload.
type NewCabinet struct {
	IP          string `json:"ip"`
	Description string `json:"description"`
	Region      Region `json:"region"`
	Target      Target `json:"target"`
	Version     string `json:"version"`
	TimeHack    bool   `json:"time_hack"`
	SendTimeout *int   `json:"send_timeout,omitempty"`
}

// Validate checks a create payload without touching the network.
func (n NewCabinet) Validate() error {
	errs := ValidationErrors{}
	if !validate.IPv4(n.IP) {
		errs["ip"] = "invalid IP address"
	}
	checkDescription(errs, n.Description)
	checkRegion(errs, n.Region)
	checkTarget(errs, n.Target)
	checkVersion(errs, n.Version)
	checkSendTimeout(errs, n.SendTimeout)
	return errs.OrNil()
}

// CabinetUpdate is a partial update; nil fields are left untouched.
// ClearSendTimeout resets the timeout to the target default.
type CabinetUpdate struct {
	Description      *string `json:"description,omitempty"`
	Region           *Region `json:"region,omitempty"`
	Target           *Target `json:"target,omitempty"`
	Version          *string `json:"version,omitempty"`
	Enabled          *bool   `json:"enabled,omitempty"`
	TimeHack         *bool   `json:"time_hack,omitempty"`
	SendTimeout      *int    `json:"send_timeout,omitempty"`
	ClearSendTimeout bool    `json:"clear_send_timeout,omitempty"`
}

// Validate checks the fields present in the update.
func (u CabinetUpdate) Validate() error {
	errs := ValidationErrors{}
	if u.Description != nil {
		checkDescription(errs, *u.Description)
	}
	if u.Region != nil {
		checkRegion(errs, *u.Region)
	}
	if u.Target != nil {
		checkTarget(errs, *u.Target)
	}
	if u.Version != nil {
		checkVersion(errs, *u.Version)
	}
	checkSendTimeout(errs, u.SendTimeout)
	return errs.OrNil()
}

// OutletUpdate saves an outlet together with the flags that depend on it.
type OutletUpdate struct {
	Outlet       outlet.Raw `json:"outlet"`
	Controllable bool       `json:"controllable"`
	PowerCycle   bool       `json:"power_cycle"`
}

// OutletState is the response to an outlet update.
type OutletState struct {
	Outlet       outlet.Spec       `json:"outlet"`
	Controllable bool              `json:"controllable"`
	PowerCycle   bool              `json:"power_cycle"`
	PowerState   outlet.PowerState `json:"power_state"`
}

// Info is the firmware metadata read from a cabinet's NetDimm.
type Info struct {
	Version   string `json:"version,omitempty"`
	MemSize   int    `json:"memsize,omitempty"`
	MemAvail  int    `json:"memavail,omitempty"`
	Available bool   `json:"available"`
}

// DirEntry is one directory of a catalog listing.
type DirEntry struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}
