// Package repos provides thin repository types over the database layer.
package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/imagescout/imagescout/internal/db/models"
)

// AccountRepository provides access to cloud-account database operations
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new cloud account in the database
func (r *AccountRepository) Create(ctx context.Context, account *models.CloudAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id uint) (*models.CloudAccount, error) {
	var account models.CloudAccount
	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByAWSAccountID retrieves an account by its AWS account id
func (r *AccountRepository) GetByAWSAccountID(ctx context.Context, awsAccountID string) (*models.CloudAccount, error) {
	var account models.CloudAccount
	err := r.db.WithContext(ctx).
		Where(&models.CloudAccount{AWSAccountID: awsAccountID}).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListEnabled retrieves all accounts that are still eligible for inspection
func (r *AccountRepository) ListEnabled(ctx context.Context) ([]models.CloudAccount, error) {
	var accounts []models.CloudAccount
	err := r.db.WithContext(ctx).
		Where(models.AccountEnabledField+" = ?", true).
		Order("id").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// SetEnabled flips the enabled flag of an account
func (r *AccountRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&models.CloudAccount{}).
		Where(&models.CloudAccount{Model: gorm.Model{ID: id}}).
		Update(models.AccountEnabledField, enabled).Error
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}
