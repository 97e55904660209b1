package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/imagescout/imagescout/internal/db/models"
)

// allStatuses enumerates every image status for transition-guard queries.
var allStatuses = []models.ImageStatus{
	models.ImageStatusPending,
	models.ImageStatusPreparing,
	models.ImageStatusInspecting,
	models.ImageStatusInspected,
	models.ImageStatusError,
	models.ImageStatusUnavailable,
}

// ImageRepository provides access to machine-image database operations
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new image repository instance
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create creates a new machine image in the database
func (r *ImageRepository) Create(ctx context.Context, image *models.MachineImage) error {
	return r.db.WithContext(ctx).Create(image).Error
}

// GetOrCreate returns the image with the given EC2 AMI id, creating it from
// the template when absent. Reports whether the row was created.
func (r *ImageRepository) GetOrCreate(ctx context.Context, image *models.MachineImage) (bool, error) {
	result := r.db.WithContext(ctx).
		Where(&models.MachineImage{EC2AMIID: image.EC2AMIID}).
		FirstOrCreate(image)
	if result.Error != nil {
		return false, fmt.Errorf("failed to get or create image: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByID retrieves an image by its ID
func (r *ImageRepository) GetByID(ctx context.Context, id uint) (*models.MachineImage, error) {
	var image models.MachineImage
	err := r.db.WithContext(ctx).First(&image, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &image, nil
}

// GetByEC2AMIID retrieves an image by its EC2 AMI id
func (r *ImageRepository) GetByEC2AMIID(ctx context.Context, ec2AMIID string) (*models.MachineImage, error) {
	var image models.MachineImage
	err := r.db.WithContext(ctx).
		Where(&models.MachineImage{EC2AMIID: ec2AMIID}).
		First(&image).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &image, nil
}

// Exists reports whether an image with the given EC2 AMI id is known.
func (r *ImageRepository) Exists(ctx context.Context, ec2AMIID string) (bool, error) {
	var image models.MachineImage
	err := r.db.WithContext(ctx).
		Where(&models.MachineImage{EC2AMIID: ec2AMIID}).
		First(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get image: %w", err)
	}
	return true, nil
}

// ListByStatus retrieves all images currently in the given status
func (r *ImageRepository) ListByStatus(ctx context.Context, status models.ImageStatus) ([]models.MachineImage, error) {
	var images []models.MachineImage
	err := r.db.WithContext(ctx).
		Where(models.ImageStatusField+" = ?", status).
		Order("id").
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// priorStatuses returns the statuses from which next may legally be entered,
// excluding next itself.
func priorStatuses(next models.ImageStatus) []models.ImageStatus {
	var prior []models.ImageStatus
	for _, status := range allStatuses {
		if status != next && status.CanTransitionTo(next) {
			prior = append(prior, status)
		}
	}
	return prior
}

// SetStatus moves the image identified by EC2 AMI id into the next status.
// The update is conditional on the current status being a legal predecessor,
// so duplicate or out-of-order requests fall through without effect. Reports
// whether a row actually changed.
func (r *ImageRepository) SetStatus(ctx context.Context, ec2AMIID string, next models.ImageStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MachineImage{}).
		Where(models.ImageEC2AMIIDField+" = ?", ec2AMIID).
		Where(models.ImageStatusField+" IN ?", priorStatuses(next)).
		Update(models.ImageStatusField, next)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update image status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetInspected records final inspection results and moves the image to
// inspected, under the same transition guard as SetStatus. A nil result
// leaves the stored inspection untouched.
func (r *ImageRepository) SetInspected(ctx context.Context, ec2AMIID string, inspection json.RawMessage) (bool, error) {
	updates := map[string]interface{}{
		models.ImageStatusField: models.ImageStatusInspected,
	}
	if inspection != nil {
		updates["inspection"] = inspection
	}
	result := r.db.WithContext(ctx).Model(&models.MachineImage{}).
		Where(models.ImageEC2AMIIDField+" = ?", ec2AMIID).
		Where(models.ImageStatusField+" IN ?", priorStatuses(models.ImageStatusInspected)).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to persist inspection: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// stuckStatuses are the statuses the restart sweep can recover from. An
// inspecting image has a live volume on the host and is left to the
// collector path.
var stuckStatuses = []models.ImageStatus{
	models.ImageStatusPending,
	models.ImageStatusPreparing,
}

// ListStalePending retrieves images stranded mid-pipeline since before the
// given cutoff time.
func (r *ImageRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.MachineImage, error) {
	var images []models.MachineImage
	err := r.db.WithContext(ctx).
		Where(models.ImageStatusField+" IN ?", stuckStatuses).
		Where("created_at < ?", cutoff).
		Order("id").
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale images: %w", err)
	}
	return images, nil
}

// SetEncrypted flags the image as backed by an encrypted snapshot
func (r *ImageRepository) SetEncrypted(ctx context.Context, ec2AMIID string) error {
	err := r.db.WithContext(ctx).Model(&models.MachineImage{}).
		Where(models.ImageEC2AMIIDField+" = ?", ec2AMIID).
		Update("encrypted", true).Error
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	return nil
}

// SetMarketplace flags the image as a marketplace image
func (r *ImageRepository) SetMarketplace(ctx context.Context, ec2AMIID string) error {
	err := r.db.WithContext(ctx).Model(&models.MachineImage{}).
		Where(models.ImageEC2AMIIDField+" = ?", ec2AMIID).
		Update("marketplace", true).Error
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	return nil
}

// SetTagDetection updates one tag-derived classification flag. The field
// must be a tag-backed boolean column.
func (r *ImageRepository) SetTagDetection(ctx context.Context, ec2AMIIDs []string, field string, detected bool) error {
	if len(ec2AMIIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&models.MachineImage{}).
		Where(models.ImageEC2AMIIDField+" IN ?", ec2AMIIDs).
		Update(field, detected).Error
	if err != nil {
		return fmt.Errorf("failed to update image tags: %w", err)
	}
	return nil
}

// CreateCopy records a reference between an image copy and its original
func (r *ImageRepository) CreateCopy(ctx context.Context, copy *models.MachineImageCopy) error {
	return r.db.WithContext(ctx).Create(copy).Error
}

// GetCopyReference resolves an image copy id to the original image id it was
// copied from. Returns gorm.ErrRecordNotFound wrapped when the id is not a
// known copy.
func (r *ImageRepository) GetCopyReference(ctx context.Context, ec2AMIID string) (string, error) {
	var copy models.MachineImageCopy
	err := r.db.WithContext(ctx).
		Where(&models.MachineImageCopy{EC2AMIID: ec2AMIID}).
		First(&copy).Error
	if err != nil {
		return "", fmt.Errorf("failed to get image copy: %w", err)
	}
	return copy.ReferenceEC2AMIID, nil
}

// GetCopyForReference returns the copy made for the given original image, if
// one exists.
func (r *ImageRepository) GetCopyForReference(ctx context.Context, referenceEC2AMIID string) (*models.MachineImageCopy, error) {
	var copy models.MachineImageCopy
	err := r.db.WithContext(ctx).
		Where(&models.MachineImageCopy{ReferenceEC2AMIID: referenceEC2AMIID}).
		First(&copy).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get image copy: %w", err)
	}
	return &copy, nil
}
