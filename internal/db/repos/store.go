package repos

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories over one database handle so services take a
// single dependency and can run multi-repository transactions.
type Store struct {
	db *gorm.DB

	Accounts    *AccountRepository
	Images      *ImageRepository
	Instances   *InstanceRepository
	Definitions *DefinitionRepository
}

// NewStore creates a store over the given database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Accounts:    NewAccountRepository(db),
		Images:      NewImageRepository(db),
		Instances:   NewInstanceRepository(db),
		Definitions: NewDefinitionRepository(db),
	}
}

// Transaction runs fn against a store bound to one database transaction.
// Returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
