package repository

import (
	"context"

	"github.com/litlabs/quota-gateway/internal/models"
	"github.com/litlabs/quota-gateway/internal/storage"
	"github.com/litlabs/quota-gateway/internal/usage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository persists daily usage counters in Postgres. It satisfies
// usage.Store.
type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Count(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) (int, error) {
	var counter models.UsageCounter
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND period_key = ?", userID, string(kind), periodKey).
		First(&counter).Error

	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return counter.Count, nil
}

// Increment bumps the counter for (user, kind, period) by one, creating the
// row on first use. The upsert leaves the read-modify-write to Postgres so
// concurrent increments don't lose updates.
func (r *UsageRepository) Increment(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) error {
	counter := models.UsageCounter{
		UserID:    userID,
		Kind:      string(kind),
		PeriodKey: periodKey,
		Count:     1,
	}

	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "kind"}, {Name: "period_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("usage_counters.count + 1"),
			}),
		}).
		Create(&counter).Error
}

// Returns all counters for a user in a period, for the usage endpoints
func (r *UsageRepository) FindByUserAndPeriod(ctx context.Context, userID, periodKey string) ([]models.UsageCounter, error) {
	var counters []models.UsageCounter
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND period_key = ?", userID, periodKey).
		Find(&counters).Error

	return counters, err
}

// Returns the total count per kind for a user across all periods
func (r *UsageRepository) TotalsByKind(ctx context.Context, userID string) (map[string]int, error) {
	type row struct {
		Kind  string
		Total int
	}

	var rows []row
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Select("kind, SUM(count) as total").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(&rows).Error

	if err != nil {
		return nil, err
	}

	totals := make(map[string]int, len(rows))
	for _, r := range rows {
		totals[r.Kind] = r.Total
	}

	return totals, nil
}
