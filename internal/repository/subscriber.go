package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

// SubscriberRepository resolves who to notify. Subscriber lifecycle lives
// in another service; this side only reads.
type SubscriberRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

// Recipients returns the contact ids of active subscribers monitoring the
// given scope.
func (r *SubscriberRepository) Recipients(ctx context.Context, examCenterID int, licenseType string) (model.Recipients, error) {
	var rec model.Recipients
	err := r.pool.QueryRow(ctx,
		`SELECT
			COALESCE(array_agg(DISTINCT lower(email)) FILTER (WHERE email <> ''), '{}'),
			COALESCE(array_agg(DISTINCT telegram_user_id) FILTER (WHERE telegram_user_id IS NOT NULL), '{}'),
			COALESCE(array_agg(DISTINCT discord_user_id) FILTER (WHERE discord_user_id IS NOT NULL), '{}')
		 FROM subscribers
		 WHERE is_subscription_active
		   AND $1 = ANY(exam_center_ids)
		   AND $2 = ANY(license_types)`,
		examCenterID, licenseType,
	).Scan(&rec.Emails, &rec.TelegramIDs, &rec.DiscordIDs)
	return rec, err
}
