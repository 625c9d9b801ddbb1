package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendStore reads the friend graph maintained by the social service.
type FriendStore struct {
	db *gorm.DB
}

func NewFriendStore(db *gorm.DB) *FriendStore {
	return &FriendStore{db: db}
}

func (s *FriendStore) FriendsOf(ctx context.Context, identity string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&friendship{}).
		Where("identity = ?", identity).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, translate("store.FriendStore.FriendsOf", err)
	}
	return ids, nil
}

// AddFriendship records the relation in both directions.
func (s *FriendStore) AddFriendship(ctx context.Context, a, b string) error {
	rows := []friendship{{Identity: a, FriendID: b}, {Identity: b, FriendID: a}}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return translate("store.FriendStore.AddFriendship", err)
}
