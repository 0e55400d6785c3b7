package repositories

import (
	"context"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"gorm.io/gorm"
)

// PinRepository defines the interface for pin data operations
type PinRepository interface {
	CreatePin(ctx context.Context, pin *models.Pin) error
	GetPinByID(ctx context.Context, id uint) (*models.Pin, error)
	GetPinsByIDs(ctx context.Context, ids []uint) ([]models.Pin, error)
	DeletePin(ctx context.Context, id uint) error
}

// PostgresPinRepository implements PinRepository for PostgreSQL
type PostgresPinRepository struct {
	db *gorm.DB
}

// NewPostgresPinRepository creates a new PostgresPinRepository
func NewPostgresPinRepository(db *gorm.DB) *PostgresPinRepository {
	return &PostgresPinRepository{db: db}
}

func (r *PostgresPinRepository) CreatePin(ctx context.Context, pin *models.Pin) error {
	return r.db.WithContext(ctx).Create(pin).Error
}

func (r *PostgresPinRepository) GetPinByID(ctx context.Context, id uint) (*models.Pin, error) {
	var pin models.Pin
	if err := r.db.WithContext(ctx).First(&pin, id).Error; err != nil {
		return nil, err
	}
	return &pin, nil
}

func (r *PostgresPinRepository) GetPinsByIDs(ctx context.Context, ids []uint) ([]models.Pin, error) {
	var pins []models.Pin
	if len(ids) == 0 {
		return pins, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&pins).Error; err != nil {
		return nil, err
	}
	return pins, nil
}

// DeletePin removes the pin row only; callers cascade notifications through the notification service.
func (r *PostgresPinRepository) DeletePin(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Pin{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
