package postgres

import (
	"context"
	"fmt"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

const (
	selectItemsSQL = `
SELECT id, external_uid, title, description, like_count, comment_count,
       extract(epoch FROM created_at)::bigint, extract(epoch FROM stored_at)::bigint
FROM items
WHERE source_id = $1 AND external_uid = ANY($2)`

	updateItemsSQL = `
UPDATE items AS i SET
	title         = u.title,
	description   = u.description,
	like_count    = u.like_count,
	comment_count = u.comment_count,
	created_at    = to_timestamp(u.created_at),
	stored_at     = to_timestamp(u.stored_at)
FROM unnest($2::text[], $3::text[], $4::text[], $5::int[], $6::int[], $7::bigint[], $8::bigint[])
	AS u(external_uid, title, description, like_count, comment_count, created_at, stored_at)
WHERE i.source_id = $1 AND i.external_uid = u.external_uid`

	insertItemsSQL = `
INSERT INTO items (source_id, external_uid, title, description, like_count, comment_count, created_at, stored_at)
SELECT $1, u.external_uid, u.title, u.description, u.like_count, u.comment_count,
       to_timestamp(u.created_at), to_timestamp(u.stored_at)
FROM unnest($2::text[], $3::text[], $4::text[], $5::int[], $6::int[], $7::bigint[], $8::bigint[])
	AS u(external_uid, title, description, like_count, comment_count, created_at, stored_at)
ON CONFLICT (source_id, external_uid) DO NOTHING`
)

// ItemPort reconciles item rows for one source inside the caller's
// transaction. It implements upsert.Port[pipeline.Item].
type ItemPort struct {
	q        Querier
	sourceID int64
}

// NewItemPort binds an ItemPort to a querier (normally a pgx.Tx) and source.
func NewItemPort(q Querier, sourceID int64) *ItemPort {
	return &ItemPort{q: q, sourceID: sourceID}
}

// SelectByKeys returns the persisted items whose external uid is in keys.
// Tag associations are not loaded here; they live in item_tags.
func (p *ItemPort) SelectByKeys(ctx context.Context, keys []string) ([]pipeline.Item, error) {
	rows, err := p.q.Query(ctx, selectItemsSQL, p.sourceID, keys)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []pipeline.Item
	for rows.Next() {
		var item pipeline.Item
		if err := rows.Scan(
			&item.ID,
			&item.ExternalUID,
			&item.Title,
			&item.Description,
			&item.LikeCount,
			&item.CommentCount,
			&item.CreatedAt,
			&item.StoredAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// BulkUpdate overwrites the non-key columns of existing rows in one
// statement.
func (p *ItemPort) BulkUpdate(ctx context.Context, records []pipeline.Item) error {
	uids, titles, descriptions, likes, comments, createdAts, storedAts := itemColumns(records)
	if _, err := p.q.Exec(ctx, updateItemsSQL,
		p.sourceID, uids, titles, descriptions, likes, comments, createdAts, storedAts,
	); err != nil {
		return fmt.Errorf("update items: %w", err)
	}
	return nil
}

// InsertIgnore inserts new rows; the unique constraint on
// (source_id, external_uid) absorbs races with concurrent writers.
func (p *ItemPort) InsertIgnore(ctx context.Context, records []pipeline.Item) error {
	uids, titles, descriptions, likes, comments, createdAts, storedAts := itemColumns(records)
	if _, err := p.q.Exec(ctx, insertItemsSQL,
		p.sourceID, uids, titles, descriptions, likes, comments, createdAts, storedAts,
	); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	return nil
}

func itemColumns(records []pipeline.Item) (uids, titles, descriptions []string, likes, comments []int32, createdAts, storedAts []int64) {
	for _, r := range records {
		uids = append(uids, r.ExternalUID)
		titles = append(titles, r.Title)
		descriptions = append(descriptions, r.Description)
		likes = append(likes, int32(r.LikeCount))
		comments = append(comments, int32(r.CommentCount))
		createdAts = append(createdAts, r.CreatedAt)
		storedAts = append(storedAts, r.StoredAt)
	}
	return
}

// ItemKey extracts the unique column used by the item upsert engine.
func ItemKey(item pipeline.Item) string {
	return item.ExternalUID
}

// MergeItem applies candidate fields onto an existing row, keeping the
// existing surrogate id and the key itself.
func MergeItem(existing, candidate pipeline.Item) pipeline.Item {
	candidate.ID = existing.ID
	return candidate
}
