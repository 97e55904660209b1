package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the machine image model
const (
	// ImageStatusField is the field name for image status
	ImageStatusField = "status"
	// ImageEC2AMIIDField is the field name for the EC2 AMI id
	ImageEC2AMIIDField = "ec2_ami_id"
)

// ImageStatus represents the inspection state of a machine image
type ImageStatus string

// Image status constants
const (
	// ImageStatusPending indicates the image is waiting for inspection to start
	ImageStatusPending ImageStatus = "pending"
	// ImageStatusPreparing indicates snapshot staging is underway
	ImageStatusPreparing ImageStatus = "preparing"
	// ImageStatusInspecting indicates the image is on the inspection host
	ImageStatusInspecting ImageStatus = "inspecting"
	// ImageStatusInspected indicates inspection finished successfully
	ImageStatusInspected ImageStatus = "inspected"
	// ImageStatusError indicates inspection cannot proceed
	ImageStatusError ImageStatus = "error"
	// ImageStatusUnavailable indicates the image was referenced but could not
	// be described
	ImageStatusUnavailable ImageStatus = "unavailable"
)

// statusRank orders the normal forward progression of an image.
var statusRank = map[ImageStatus]int{
	ImageStatusPending:    0,
	ImageStatusPreparing:  1,
	ImageStatusInspecting: 2,
	ImageStatusInspected:  3,
}

// MachineImage represents a machine image discovered in a customer account.
// Exactly one record exists per distinct EC2 AMI id.
type MachineImage struct {
	gorm.Model
	EC2AMIID          string          `json:"ec2_ami_id" gorm:"not null;uniqueIndex"`
	Status            ImageStatus     `json:"status" gorm:"not null;index"`
	Name              string          `json:"name"`
	OwnerAccountID    string          `json:"owner_account_id"`
	Region            string          `json:"region"`
	RHELDetectedByTag bool            `json:"rhel_detected_by_tag" gorm:"not null;default:false"`
	// The column tag keeps gorm from splitting OpenShift into open_shift.
	OpenShiftDetected bool            `json:"openshift_detected" gorm:"column:openshift_detected;not null;default:false"`
	WindowsDetected   bool            `json:"windows_detected" gorm:"not null;default:false"`
	Encrypted         bool            `json:"encrypted" gorm:"not null;default:false"`
	Marketplace       bool            `json:"marketplace" gorm:"not null;default:false"`
	Inspection        json.RawMessage `json:"inspection,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
}

// MachineImageCopy records that we copied a privately-shared image into the
// customer account before staging, so results for the copy attach to the
// original image.
type MachineImageCopy struct {
	gorm.Model
	EC2AMIID          string `json:"ec2_ami_id" gorm:"not null;uniqueIndex"`
	ReferenceEC2AMIID string `json:"reference_ec2_ami_id" gorm:"not null;index"`
}

// String returns the string representation of the image status
func (s ImageStatus) String() string {
	return string(s)
}

// ParseImageStatus converts a string to an ImageStatus type
func ParseImageStatus(str string) (ImageStatus, error) {
	switch str {
	case string(ImageStatusPending):
		return ImageStatusPending, nil
	case string(ImageStatusPreparing):
		return ImageStatusPreparing, nil
	case string(ImageStatusInspecting):
		return ImageStatusInspecting, nil
	case string(ImageStatusInspected):
		return ImageStatusInspected, nil
	case string(ImageStatusError):
		return ImageStatusError, nil
	case string(ImageStatusUnavailable):
		return ImageStatusUnavailable, nil
	default:
		return "", fmt.Errorf("invalid image status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for ImageStatus
func (s *ImageStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseImageStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// MarshalJSON implements json.Marshaler for ImageStatus
func (s ImageStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CanTransitionTo reports whether moving from s to next is a legal status
// change. Status only moves forward along pending, preparing, inspecting,
// inspected; error is reachable from everything except inspected; unavailable
// only replaces pending. Same-status writes are always legal no-ops.
func (s ImageStatus) CanTransitionTo(next ImageStatus) bool {
	if s == next {
		return true
	}
	if next == ImageStatusError {
		return s != ImageStatusInspected
	}
	if next == ImageStatusUnavailable {
		return s == ImageStatusPending
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// Validate ensures that the image data is valid
func (m *MachineImage) Validate() error {
	if m.EC2AMIID == "" {
		return fmt.Errorf("ec2 ami id cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new image
func (m *MachineImage) BeforeCreate(_ *gorm.DB) error {
	if m.Status == "" {
		m.Status = ImageStatusPending
	}
	return m.Validate()
}
