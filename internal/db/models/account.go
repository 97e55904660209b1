package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the cloud account model
const (
	// AccountEnabledField is the field name for the enabled flag
	AccountEnabledField = "enabled"
)

// CloudAccount represents one customer AWS account that we inspect.
//
// An account is disabled, never deleted, when its credentials stop working:
// in-flight tasks may still hold references to it and re-check the enabled
// flag after every blocking call.
type CloudAccount struct {
	gorm.Model
	AWSAccountID string    `json:"aws_account_id" gorm:"not null;uniqueIndex"`
	RoleARN      string    `json:"role_arn" gorm:"not null"`
	Name         string    `json:"name" gorm:"index"`
	Enabled      bool      `json:"enabled" gorm:"not null;default:true;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// Validate ensures that the account data is valid
func (a *CloudAccount) Validate() error {
	if a.AWSAccountID == "" {
		return fmt.Errorf("aws account id cannot be empty")
	}
	if a.RoleARN == "" {
		return fmt.Errorf("role arn cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new account
func (a *CloudAccount) BeforeCreate(_ *gorm.DB) error {
	return a.Validate()
}
