package models

import (
	"gorm.io/gorm"
)

// InstanceTypeDefinition is a catalog entry for an EC2 instance type.
// The catalog is append-only: a definition is never overwritten once present.
type InstanceTypeDefinition struct {
	gorm.Model
	InstanceType string  `json:"instance_type" gorm:"not null;uniqueIndex"`
	Memory       float64 `json:"memory" gorm:"not null"`
	VCPU         int     `json:"vcpu" gorm:"not null"`
}
