package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BloodBank represents the blood_banks table. One row is one account
// document; batches and summary are embedded JSON.
type BloodBank struct {
	BankID        string         `gorm:"primaryKey"`
	Name          string         `gorm:"not null;index:idx_blood_banks_name"`
	Hospital      string         `gorm:"not null"`
	Category      string         `gorm:"not null"`
	ContactPerson string         `gorm:"not null"`
	Email         string         `gorm:"not null;uniqueIndex:uniq_blood_banks_email"`
	ContactNo     string         `gorm:"not null"`
	LicenseNo     string         `gorm:"not null;uniqueIndex:uniq_blood_banks_license"`
	Address       string         `gorm:"not null"`
	Pincode       string         `gorm:"not null"`
	City          string         `gorm:"not null;index:idx_blood_banks_city"`
	PasswordHash  string         `gorm:"not null"`
	Batches       datatypes.JSON `gorm:"not null"`
	Summary       datatypes.JSON `gorm:"not null"`
	Version       int64          `gorm:"not null;default:0"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (BloodBank) TableName() string { return "blood_banks" }

func (bank *BloodBank) BeforeCreate(tx *gorm.DB) error {
	if bank.BankID == "" {
		bank.BankID = uuid.NewString()
	}
	return nil
}
