package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CUknot/locshare/models"
)

// GormLocationRepository implements LocationRepository.
//
// Deletes use RETURNING so the removed rows land in the statement
// destination, where the change feed callbacks pick them up.
type GormLocationRepository struct {
	db *gorm.DB
}

func NewGormLocationRepository(db *gorm.DB) *GormLocationRepository {
	if db == nil {
		panic("database connection cannot be nil for GormLocationRepository")
	}
	return &GormLocationRepository{db: db}
}

func (r *GormLocationRepository) Create(ctx context.Context, loc *models.Location) error {
	if err := r.db.WithContext(ctx).Create(loc).Error; err != nil {
		return fmt.Errorf("gorm: create location in room %s: %w", loc.RoomID, err)
	}
	return nil
}

func (r *GormLocationRepository) FindByID(ctx context.Context, id string) (*models.Location, error) {
	var loc models.Location
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find location %s: %w", id, err)
	}
	return &loc, nil
}

func (r *GormLocationRepository) FindLivePosition(ctx context.Context, roomID, userID string) (*models.Location, error) {
	var loc models.Location
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ? AND is_custom_marker = ?", roomID, userID, false).
		Order("timestamp DESC").
		First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find live position room=%s user=%s: %w", roomID, userID, err)
	}
	return &loc, nil
}

func (r *GormLocationRepository) Save(ctx context.Context, loc *models.Location) error {
	if err := r.db.WithContext(ctx).Save(loc).Error; err != nil {
		return fmt.Errorf("gorm: save location %s: %w", loc.ID, err)
	}
	return nil
}

func (r *GormLocationRepository) UpsertLivePosition(ctx context.Context, loc *models.Location) error {
	loc.IsCustomMarker = false
	err := r.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns:     []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
				TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "NOT is_custom_marker"}}},
				DoUpdates:   clause.AssignmentColumns([]string{"latitude", "longitude", "timestamp", "user_name"}),
			},
			clause.Returning{},
		).
		Create(loc).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert live position room=%s user=%s: %w", loc.RoomID, loc.UserID, err)
	}
	return nil
}

func (r *GormLocationRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Location, error) {
	locs := []models.Location{}
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("timestamp DESC").Find(&locs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list locations of room %s: %w", roomID, err)
	}
	return locs, nil
}

func (r *GormLocationRepository) Delete(ctx context.Context, id string) error {
	var deleted []models.Location
	err := r.db.WithContext(ctx).Clauses(clause.Returning{}).Where("id = ?", id).Delete(&deleted).Error
	if err != nil {
		return fmt.Errorf("gorm: delete location %s: %w", id, err)
	}
	return nil
}

func (r *GormLocationRepository) DeleteByRoom(ctx context.Context, roomID string) ([]models.Location, error) {
	deleted := []models.Location{}
	err := r.db.WithContext(ctx).Clauses(clause.Returning{}).Where("room_id = ?", roomID).Delete(&deleted).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: delete locations of room %s: %w", roomID, err)
	}
	return deleted, nil
}

func (r *GormLocationRepository) DeleteByRoomAndUser(ctx context.Context, roomID, userID string) ([]models.Location, error) {
	deleted := []models.Location{}
	err := r.db.WithContext(ctx).Clauses(clause.Returning{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&deleted).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: delete locations room=%s user=%s: %w", roomID, userID, err)
	}
	return deleted, nil
}
