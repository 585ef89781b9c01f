package repositories

import (
	"context"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/netboot-go/internal/database/models"
)

// CabinetGameRepository handles per-cabinet game data access.
type CabinetGameRepository struct {
	db *gorm.DB
}

// NewCabinetGameRepository creates a new CabinetGameRepository.
func NewCabinetGameRepository(db *gorm.DB) *CabinetGameRepository {
	return &CabinetGameRepository{db: db}
}

// FindByCabinetIP returns all games offered to a cabinet.
func (r *CabinetGameRepository) FindByCabinetIP(ctx context.Context, ip string) ([]models.CabinetGame, error) {
	var games []models.CabinetGame
	result := r.db.WithContext(ctx).
		Where("cabinet_ip = ?", ip).
		Order("file ASC").
		Find(&games)
	return games, result.Error
}

// FindOne returns a single cabinet game.
func (r *CabinetGameRepository) FindOne(ctx context.Context, ip, file string) (*models.CabinetGame, error) {
	var game models.CabinetGame
	result := r.db.WithContext(ctx).First(&game, "cabinet_ip = ? AND file = ?", ip, file)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &game, nil
}

// Files returns the files of all games offered to a cabinet.
func (r *CabinetGameRepository) Files(ctx context.Context, ip string) ([]string, error) {
	var files []string
	result := r.db.WithContext(ctx).
		Model(&models.CabinetGame{}).
		Where("cabinet_ip = ?", ip).
		Order("file ASC").
		Pluck("file", &files)
	return files, result.Error
}

// ReplaceForCabinet replaces the full game set of a cabinet in a transaction.
func (r *CabinetGameRepository) ReplaceForCabinet(ctx context.Context, ip string, games []models.CabinetGame) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.CabinetGame{}, "cabinet_ip = ?", ip).Error; err != nil {
			return err
		}

		if len(games) > 0 {
			for i := range games {
				if games[i].ID == "" {
					games[i].ID = cuid.New()
				}
				games[i].CabinetIP = ip
			}
			if err := tx.Create(&games).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountByCabinetIP returns the number of games offered to a cabinet.
func (r *CabinetGameRepository) CountByCabinetIP(ctx context.Context, ip string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&models.CabinetGame{}).
		Where("cabinet_ip = ?", ip).
		Count(&count)
	return count, result.Error
}

// Apply upserts and removes individual games of a cabinet in a transaction.
// Games not named in either list are left untouched.
func (r *CabinetGameRepository) Apply(ctx context.Context, ip string, upserts []models.CabinetGame, removals []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(removals) > 0 {
			if err := tx.Delete(&models.CabinetGame{}, "cabinet_ip = ? AND file IN ?", ip, removals).Error; err != nil {
				return err
			}
		}

		for i := range upserts {
			game := upserts[i]
			game.CabinetIP = ip

			var existing models.CabinetGame
			result := tx.First(&existing, "cabinet_ip = ? AND file = ?", ip, game.File)
			if result.Error == gorm.ErrRecordNotFound {
				game.ID = cuid.New()
				if err := tx.Create(&game).Error; err != nil {
					return err
				}
				continue
			} else if result.Error != nil {
				return result.Error
			}

			game.ID = existing.ID
			game.CreatedAt = existing.CreatedAt
			if err := tx.Save(&game).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
