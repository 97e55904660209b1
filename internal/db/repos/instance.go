package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/imagescout/imagescout/internal/db/models"
)

// InstanceRepository provides access to instance-related database operations
type InstanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a new instance repository instance
func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create creates a new instance in the database
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

// GetOrCreate returns the instance with the given EC2 instance id, creating
// it from the template when absent. Reports whether the row was created.
func (r *InstanceRepository) GetOrCreate(ctx context.Context, instance *models.Instance) (bool, error) {
	result := r.db.WithContext(ctx).
		Where(&models.Instance{EC2InstanceID: instance.EC2InstanceID}).
		FirstOrCreate(instance)
	if result.Error != nil {
		return false, fmt.Errorf("failed to get or create instance: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByEC2InstanceID retrieves an instance by its EC2 instance id
func (r *InstanceRepository) GetByEC2InstanceID(ctx context.Context, ec2InstanceID string) (*models.Instance, error) {
	var instance models.Instance
	err := r.db.WithContext(ctx).
		Where(&models.Instance{EC2InstanceID: ec2InstanceID}).
		First(&instance).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &instance, nil
}

// SetImageID back-fills the image reference of an instance
func (r *InstanceRepository) SetImageID(ctx context.Context, id uint, imageID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Instance{}).
		Where(&models.Instance{Model: gorm.Model{ID: id}}).
		Update("image_id", imageID).Error
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// CreateEvent appends an instance event. Appending the same (instance, type,
// occurred-at) triple twice is a no-op so redelivered audit messages do not
// duplicate history.
func (r *InstanceRepository) CreateEvent(ctx context.Context, event *models.InstanceEvent) error {
	var existing models.InstanceEvent
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND event_type = ? AND occurred_at = ?",
			event.InstanceID, event.EventType, event.OccurredAt).
		First(&existing).Error
	if err == nil {
		*event = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check instance event: %w", err)
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListEvents retrieves all events of an instance in occurrence order
func (r *InstanceRepository) ListEvents(ctx context.Context, instanceID uint) ([]models.InstanceEvent, error) {
	var events []models.InstanceEvent
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instance events: %w", err)
	}
	return events, nil
}

// LatestEventTime returns the occurrence time of the newest event of an
// instance, or the zero time when it has none.
func (r *InstanceRepository) LatestEventTime(ctx context.Context, instanceID uint) (time.Time, error) {
	var event models.InstanceEvent
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("occurred_at desc, id desc").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get instance event: %w", err)
	}
	return event.OccurredAt, nil
}
