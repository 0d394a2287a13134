package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/CUknot/locshare/models"
)

// GormRoomRepository implements RoomRepository.
type GormRoomRepository struct {
	db *gorm.DB
}

func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

func (r *GormRoomRepository) Create(ctx context.Context, room *models.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("gorm: create room %q: %w", room.Name, err)
	}
	return nil
}

func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &room, nil
}

func (r *GormRoomRepository) FindByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).Take(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find room by code %s: %w", code, err)
	}
	return &room, nil
}

func (r *GormRoomRepository) ListByOwner(ctx context.Context, userID string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.WithContext(ctx).Where("created_by = ?", userID).Order("created_at DESC").Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms owned by %s: %w", userID, err)
	}
	return rooms, nil
}

func (r *GormRoomRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Room, error) {
	rooms := []models.Room{}
	if len(ids) == 0 {
		return rooms, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at DESC").Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms by ids: %w", err)
	}
	return rooms, nil
}

func (r *GormRoomRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Room{}).Error; err != nil {
		return fmt.Errorf("gorm: delete room %s: %w", id, err)
	}
	return nil
}
