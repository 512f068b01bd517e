package postgres

import (
	"context"
	"fmt"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

const activeSubscriptionsSQL = `
SELECT s.subscriber_id, t.title
FROM subscriptions s
JOIN subscription_tags st ON st.subscription_id = s.id
JOIN tags t ON t.id = st.tag_id
WHERE s.source_id = $1 AND s.active
ORDER BY s.subscriber_id, t.title`

// ActiveSubscriptions returns the active subscriptions for one source with
// the tag titles each subscriber follows.
func (s *Store) ActiveSubscriptions(ctx context.Context, sourceID int64) ([]pipeline.Subscription, error) {
	rows, err := s.db.Query(ctx, activeSubscriptionsSQL, sourceID)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []pipeline.Subscription
	for rows.Next() {
		var subscriberID int64
		var title string
		if err := rows.Scan(&subscriberID, &title); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if len(subs) == 0 || subs[len(subs)-1].SubscriberID != subscriberID {
			subs = append(subs, pipeline.Subscription{
				SubscriberID: subscriberID,
				SourceID:     sourceID,
			})
		}
		last := &subs[len(subs)-1]
		last.FollowTags = append(last.FollowTags, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}
