package fleetio

import (
	"context"
	"fmt"
	"log"

	"github.com/bbernstein/netboot-go/internal/database/models"
)

// SeedFileKey is the setting that records which seed file populated the registry.
const SeedFileKey = "fleet.seed_file"

// SettingStore persists simple key/value settings.
type SettingStore interface {
	Value(ctx context.Context, key string) (string, error)
	Upsert(ctx context.Context, key, value string) (*models.Setting, error)
}

// Seed imports file into the registry when the registry is empty. It
// reports whether anything was imported.
func Seed(ctx context.Context, reg Registry, store SettingStore, file string) (bool, error) {
	if file == "" {
		return false, nil
	}

	cabinets, err := reg.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list cabinets: %w", err)
	}
	if len(cabinets) > 0 {
		prev, err := store.Value(ctx, SeedFileKey)
		if err != nil {
			return false, fmt.Errorf("failed to read seed setting: %w", err)
		}
		if prev != "" {
			log.Printf("🌱 Registry already seeded from %s, skipping %s", prev, file)
		} else {
			log.Printf("🌱 Registry has %d cabinets, skipping seed file %s", len(cabinets), file)
		}
		return false, nil
	}

	doc, err := Load(file)
	if err != nil {
		return false, err
	}
	_, warnings, err := Import(ctx, reg, doc, ImportOptions{Mode: ImportModeCreate})
	if err != nil {
		return false, fmt.Errorf("failed to seed fleet from %s: %w", file, err)
	}
	for _, w := range warnings {
		log.Printf("⚠️  Seed: %s", w)
	}

	if _, err := store.Upsert(ctx, SeedFileKey, file); err != nil {
		return true, fmt.Errorf("failed to record seed file: %w", err)
	}
	log.Printf("🌱 Seeded %d cabinets from %s", len(doc.Cabinets), file)
	return true, nil
}
