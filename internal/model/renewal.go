package model

import (
	"time"

	"gorm.io/datatypes"
)

// RenewalRecord stores one renewal and its history as JSON documents
type RenewalRecord struct {
	ID           string         `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	FriendlyName string         `gorm:"column:friendly_name;type:varchar(255)" json:"friendly_name"`
	NextDueDate  time.Time      `gorm:"column:next_due_date;not null;index" json:"next_due_date"`
	Data         datatypes.JSON `gorm:"column:data;type:json;not null" json:"data"`
	History      datatypes.JSON `gorm:"column:history;type:json" json:"history"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for RenewalRecord
func (RenewalRecord) TableName() string {
	return "renewals"
}
