package model

import (
	"time"

	"github.com/google/uuid"
)

// Company is a registered taxpayer. Every fiscal device is exclusively
// owned by the company that registered it.
type Company struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name string    `gorm:"type:varchar(200);not null"`
	// TIN is the taxpayer identification number issued by the revenue authority.
	TIN       string `gorm:"type:varchar(20);uniqueIndex;not null"`
	VATNumber *string
	Email     *string
	// ActivationKeyHash is a bcrypt hash of the activation key the authority
	// issues for device registration. The plaintext key is never stored.
	ActivationKeyHash string `gorm:"not null"`
	IsActive          bool   `gorm:"not null;default:true"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
