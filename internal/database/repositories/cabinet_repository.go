// Package repositories provides data access layer implementations.
package repositories

import (
	"context"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/netboot-go/internal/database/models"
)

// CabinetRepository handles cabinet data access.
type CabinetRepository struct {
	db *gorm.DB
}

// NewCabinetRepository creates a new CabinetRepository.
func NewCabinetRepository(db *gorm.DB) *CabinetRepository {
	return &CabinetRepository{db: db}
}

// FindAll returns all cabinets ordered by description.
func (r *CabinetRepository) FindAll(ctx context.Context) ([]models.Cabinet, error) {
	var cabinets []models.Cabinet
	result := r.db.WithContext(ctx).
		Order("description ASC").
		Order("ip ASC").
		Find(&cabinets)
	return cabinets, result.Error
}

// FindByIP returns a cabinet by IP.
func (r *CabinetRepository) FindByIP(ctx context.Context, ip string) (*models.Cabinet, error) {
	var cabinet models.Cabinet
	result := r.db.WithContext(ctx).First(&cabinet, "ip = ?", ip)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cabinet, nil
}

// Exists reports whether a cabinet with ip is registered.
func (r *CabinetRepository) Exists(ctx context.Context, ip string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&models.Cabinet{}).
		Where("ip = ?", ip).
		Count(&count)
	return count > 0, result.Error
}

// Count returns the number of registered cabinets.
func (r *CabinetRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Cabinet{}).Count(&count)
	return count, result.Error
}

// CreateWithGames creates a cabinet and its offered games in a transaction.
func (r *CabinetRepository) CreateWithGames(ctx context.Context, cabinet *models.Cabinet, games []models.CabinetGame) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cabinet).Error; err != nil {
			return err
		}

		if len(games) > 0 {
			for i := range games {
				if games[i].ID == "" {
					games[i].ID = cuid.New()
				}
				games[i].CabinetIP = cabinet.IP
			}
			if err := tx.Create(&games).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Update saves every field of an existing cabinet.
func (r *CabinetRepository) Update(ctx context.Context, cabinet *models.Cabinet) error {
	return r.db.WithContext(ctx).Save(cabinet).Error
}

// UpdateFields updates selected columns of a cabinet.
func (r *CabinetRepository) UpdateFields(ctx context.Context, ip string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&models.Cabinet{}).
		Where("ip = ?", ip).
		Updates(fields).Error
}

// Delete deletes a cabinet and its games.
func (r *CabinetRepository) Delete(ctx context.Context, ip string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.CabinetGame{}, "cabinet_ip = ?", ip).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Cabinet{}, "ip = ?", ip).Error
	})
}
