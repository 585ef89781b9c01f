package repositories

import (
	"context"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/netboot-go/internal/database/models"
)

// RomNameRepository handles per-region game name overrides.
type RomNameRepository struct {
	db *gorm.DB
}

// NewRomNameRepository creates a new RomNameRepository.
func NewRomNameRepository(db *gorm.DB) *RomNameRepository {
	return &RomNameRepository{db: db}
}

// FindAll returns every override.
func (r *RomNameRepository) FindAll(ctx context.Context) ([]models.RomName, error) {
	var names []models.RomName
	result := r.db.WithContext(ctx).
		Order("file ASC").
		Order("region ASC").
		Find(&names)
	return names, result.Error
}

// FindByFile returns the overrides for one game.
func (r *RomNameRepository) FindByFile(ctx context.Context, file string) ([]models.RomName, error) {
	var names []models.RomName
	result := r.db.WithContext(ctx).
		Where("file = ?", file).
		Order("region ASC").
		Find(&names)
	return names, result.Error
}

// Upsert creates or updates the override for file in region.
func (r *RomNameRepository) Upsert(ctx context.Context, file, region, name string) (*models.RomName, error) {
	var romName models.RomName

	result := r.db.WithContext(ctx).First(&romName, "file = ? AND region = ?", file, region)

	if result.Error == gorm.ErrRecordNotFound {
		romName = models.RomName{
			ID:     cuid.New(),
			File:   file,
			Region: region,
			Name:   name,
		}
		if err := r.db.WithContext(ctx).Create(&romName).Error; err != nil {
			return nil, err
		}
		return &romName, nil
	} else if result.Error != nil {
		return nil, result.Error
	}

	romName.Name = name
	if err := r.db.WithContext(ctx).Save(&romName).Error; err != nil {
		return nil, err
	}
	return &romName, nil
}

// Delete removes the override for file in region.
func (r *RomNameRepository) Delete(ctx context.Context, file, region string) error {
	return r.db.WithContext(ctx).Delete(&models.RomName{}, "file = ? AND region = ?", file, region).Error
}
