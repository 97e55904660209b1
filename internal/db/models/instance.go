package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventType represents a power or lifecycle transition of an instance
type EventType string

// Instance event type constants
const (
	// EventTypePowerOn indicates the instance started running
	EventTypePowerOn EventType = "power_on"
	// EventTypePowerOff indicates the instance stopped or terminated
	EventTypePowerOff EventType = "power_off"
	// EventTypeAttributeChange indicates the instance type changed
	EventTypeAttributeChange EventType = "attribute_change"
)

// Instance represents an EC2 instance in a customer account.
type Instance struct {
	gorm.Model
	AccountID     uint   `json:"account_id" gorm:"not null;index"`
	EC2InstanceID string `json:"ec2_instance_id" gorm:"not null;uniqueIndex"`
	Region        string `json:"region" gorm:"not null"`
	// ImageID is nullable: the image may be unknown until an audit event or
	// describe call back-fills it.
	ImageID   *uint     `json:"image_id,omitempty" gorm:"index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// InstanceEvent is an ordered record of a power/lifecycle transition.
// InstanceType and EC2AMIID carry whatever was known at event time and may be
// back-filled later.
type InstanceEvent struct {
	gorm.Model
	InstanceID   uint      `json:"instance_id" gorm:"not null;index"`
	EventType    EventType `json:"event_type" gorm:"not null"`
	OccurredAt   time.Time `json:"occurred_at" gorm:"not null;index"`
	InstanceType *string   `json:"instance_type,omitempty"`
	EC2AMIID     *string   `json:"ec2_ami_id,omitempty"`
	SubnetID     *string   `json:"subnet_id,omitempty"`
}

// String returns the string representation of the event type
func (t EventType) String() string {
	return string(t)
}

// ParseEventType converts a string to an EventType
func ParseEventType(str string) (EventType, error) {
	switch str {
	case string(EventTypePowerOn):
		return EventTypePowerOn, nil
	case string(EventTypePowerOff):
		return EventTypePowerOff, nil
	case string(EventTypeAttributeChange):
		return EventTypeAttributeChange, nil
	default:
		return "", fmt.Errorf("invalid event type: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for EventType
func (t *EventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	eventType, err := ParseEventType(str)
	if err != nil {
		return err
	}

	*t = eventType
	return nil
}

// MarshalJSON implements json.Marshaler for EventType
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Validate ensures that the instance data is valid
func (i *Instance) Validate() error {
	if i.EC2InstanceID == "" {
		return fmt.Errorf("ec2 instance id cannot be empty")
	}
	if i.AccountID == 0 {
		return fmt.Errorf("account id cannot be zero")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new instance
func (i *Instance) BeforeCreate(_ *gorm.DB) error {
	return i.Validate()
}
