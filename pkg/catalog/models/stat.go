package models

import "time"

// PlatformStat is one row of the periodic catalog rollup. Maintenance
// collapses old rows during database compaction.
type PlatformStat struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PlatformID  string    `gorm:"not null;size:32;index" json:"platform_id"`
	EntryCount  int64     `gorm:"not null" json:"entry_count"`
	TotalBytes  int64     `gorm:"not null" json:"total_bytes"`
	BIOSMissing bool      `gorm:"not null;default:false" json:"bios_missing"`
	CollectedAt time.Time `gorm:"not null;index" json:"collected_at"`
}

// TableName returns the table name for PlatformStat.
func (PlatformStat) TableName() string {
	return "platform_stats"
}
