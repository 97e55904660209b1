package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/imagescout/imagescout/internal/db/models"
)

// DefinitionRepository provides access to the instance-type catalog.
// The catalog is append-only: Save never overwrites an existing type.
type DefinitionRepository struct {
	db *gorm.DB
}

// NewDefinitionRepository creates a new definition repository instance
func NewDefinitionRepository(db *gorm.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// Save stores a definition unless its instance type is already cataloged.
// Reports whether a new row was written.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.InstanceTypeDefinition) (bool, error) {
	result := r.db.WithContext(ctx).
		Where(&models.InstanceTypeDefinition{InstanceType: definition.InstanceType}).
		FirstOrCreate(definition)
	if result.Error != nil {
		return false, fmt.Errorf("failed to save instance type definition: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByInstanceType retrieves the definition for one instance type
func (r *DefinitionRepository) GetByInstanceType(ctx context.Context, instanceType string) (*models.InstanceTypeDefinition, error) {
	var definition models.InstanceTypeDefinition
	err := r.db.WithContext(ctx).
		Where(&models.InstanceTypeDefinition{InstanceType: instanceType}).
		First(&definition).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get instance type definition: %w", err)
	}
	return &definition, nil
}

// Count returns the number of cataloged instance types
func (r *DefinitionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.InstanceTypeDefinition{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count instance type definitions: %w", err)
	}
	return count, nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
