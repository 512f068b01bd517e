package postgres

import (
	"context"
	"fmt"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

const (
	selectTagsSQL = `SELECT id, title FROM tags WHERE title = ANY($1)`

	insertTagsSQL = `
INSERT INTO tags (title)
SELECT unnest($1::text[])
ON CONFLICT (title) DO NOTHING`

	linkItemTagsSQL = `
INSERT INTO item_tags (item_id, tag_id)
SELECT unnest($1::bigint[]), unnest($2::bigint[])
ON CONFLICT DO NOTHING`
)

// TagPort reconciles tag rows inside the caller's transaction. It implements
// upsert.Port[pipeline.Tag]. The tags table is shared by every concurrent
// ingestion instance; the title uniqueness constraint plus insert-ignore is
// the only guard.
type TagPort struct {
	q Querier
}

// NewTagPort binds a TagPort to a querier (normally a pgx.Tx).
func NewTagPort(q Querier) *TagPort {
	return &TagPort{q: q}
}

// SelectByKeys returns the persisted tags whose title is in keys.
func (p *TagPort) SelectByKeys(ctx context.Context, keys []string) ([]pipeline.Tag, error) {
	rows, err := p.q.Query(ctx, selectTagsSQL, keys)
	if err != nil {
		return nil, fmt.Errorf("select tags: %w", err)
	}
	defer rows.Close()

	var tags []pipeline.Tag
	for rows.Next() {
		var tag pipeline.Tag
		if err := rows.Scan(&tag.ID, &tag.Title); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// BulkUpdate is a no-op: a tag has no columns beyond its key.
func (p *TagPort) BulkUpdate(_ context.Context, _ []pipeline.Tag) error {
	return nil
}

// InsertIgnore inserts new titles, ignoring conflicts.
func (p *TagPort) InsertIgnore(ctx context.Context, records []pipeline.Tag) error {
	titles := make([]string, 0, len(records))
	for _, r := range records {
		titles = append(titles, r.Title)
	}
	if _, err := p.q.Exec(ctx, insertTagsSQL, titles); err != nil {
		return fmt.Errorf("insert tags: %w", err)
	}
	return nil
}

// TagKey extracts the unique column used by the tag upsert engine.
func TagKey(tag pipeline.Tag) string {
	return tag.Title
}

// MergeTag keeps the existing row untouched.
func MergeTag(existing, _ pipeline.Tag) pipeline.Tag {
	return existing
}

// linkItemTags adds item<->tag association rows. Additive: existing links are
// left alone.
func linkItemTags(ctx context.Context, q Querier, itemIDs, tagIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if len(itemIDs) != len(tagIDs) {
		return fmt.Errorf("mismatched link columns: %d items, %d tags", len(itemIDs), len(tagIDs))
	}
	if _, err := q.Exec(ctx, linkItemTagsSQL, itemIDs, tagIDs); err != nil {
		return fmt.Errorf("link item tags: %w", err)
	}
	return nil
}
