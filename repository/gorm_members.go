package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/CUknot/locshare/models"
)

// GormMemberRepository implements MemberRepository.
type GormMemberRepository struct {
	db *gorm.DB
}

func NewGormMemberRepository(db *gorm.DB) *GormMemberRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMemberRepository")
	}
	return &GormMemberRepository{db: db}
}

func (r *GormMemberRepository) Create(ctx context.Context, member *models.RoomMember) error {
	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		return fmt.Errorf("gorm: create membership room=%s user=%s: %w", member.RoomID, member.UserID, err)
	}
	return nil
}

func (r *GormMemberRepository) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).Model(&models.RoomMember{}).Where("user_id = ?", userID).Pluck("room_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list memberships of %s: %w", userID, err)
	}
	return ids, nil
}

func (r *GormMemberRepository) DeleteByRoom(ctx context.Context, roomID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&models.RoomMember{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: delete memberships of room %s: %w", roomID, result.Error)
	}
	return result.RowsAffected, nil
}
