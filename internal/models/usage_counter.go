package models

// Counts completed operations of one kind for one user in one accounting
// period. One row per (user, kind, period); counts only ever grow. Old
// periods are kept for the analytics endpoints rather than deleted.
type UsageCounter struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"uniqueIndex:idx_usage_user_kind_period;not null" json:"user_id"`
	Kind      string `gorm:"uniqueIndex:idx_usage_user_kind_period;not null" json:"kind"`
	PeriodKey string `gorm:"uniqueIndex:idx_usage_user_kind_period;not null" json:"period_key"`
	Count     int    `gorm:"not null;default:0" json:"count"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}
