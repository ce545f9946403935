package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const syncStateKey = "drive"

// Store is the persistence layer for the catalog, the remote-listing cache
// and their bookkeeping state. All methods are transactional per call.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSyncState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSyncState() error {
	row := syncStateRow{Key: syncStateKey}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}
