// Package models contains the database model definitions.
// These models map directly to the SQLite database tables.
package models

import (
	"time"
)

// Cabinet represents one managed cabinet.
// Table: cabinets
type Cabinet struct {
	IP          string  `gorm:"column:ip;primaryKey"`
	Description string  `gorm:"column:description;index"`
	Region      string  `gorm:"column:region"`
	Target      string  `gorm:"column:target"`
	Version     string  `gorm:"column:version"`
	Filename    *string `gorm:"column:filename"` // selected game, nil when none
	Enabled     bool    `gorm:"column:enabled"`
	TimeHack    bool    `gorm:"column:time_hack;default:false"`
	SendTimeout *int    `gorm:"column:send_timeout"` // seconds, nil uses the target default

	// Boot subsystem state
	Status   string `gorm:"column:status"`
	Progress int    `gorm:"column:progress;default:0"`

	// Outlet; saved as one unit
	Outlet       string `gorm:"column:outlet;type:text"` // JSON outlet config
	Controllable bool   `gorm:"column:controllable;default:false"`
	PowerCycle   bool   `gorm:"column:power_cycle;default:false"`
	PowerState   string `gorm:"column:power_state;default:disabled"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations (loaded separately)
	Games []CabinetGame `gorm:"foreignKey:CabinetIP;references:IP"`
}

func (Cabinet) TableName() string { return "cabinets" }

// CabinetGame marks a game as offered to a cabinet, with its patch state.
// A missing row means the game is not offered.
// Table: cabinet_games
type CabinetGame struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CabinetIP string    `gorm:"column:cabinet_ip;uniqueIndex:idx_cabinet_game"`
	File      string    `gorm:"column:file;uniqueIndex:idx_cabinet_game"`
	Patches   string    `gorm:"column:patches;type:text"`  // JSON array of enabled patch files
	Settings  *string   `gorm:"column:settings;type:text"` // JSON settings collection, nil when disabled
	SRAM      *string   `gorm:"column:sram"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CabinetGame) TableName() string { return "cabinet_games" }

// RomName overrides the display name of a game in one region.
// Table: rom_names
type RomName struct {
	ID        string    `gorm:"column:id;primaryKey"`
	File      string    `gorm:"column:file;uniqueIndex:idx_rom_region"`
	Region    string    `gorm:"column:region;uniqueIndex:idx_rom_region"`
	Name      string    `gorm:"column:name"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (RomName) TableName() string { return "rom_names" }

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// All returns every model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Cabinet{},
		&CabinetGame{},
		&RomName{},
		&Setting{},
	}
}
