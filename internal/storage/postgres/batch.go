package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/pipeline"
	"github.com/gramwatch/gramwatch/internal/upsert"
)

// SaveBatch persists one batch as a single transaction: items and tags are
// reconciled through the upsert engines, then item<->tag links are added.
// Replaying the same batch leaves the store unchanged.
func (s *Store) SaveBatch(ctx context.Context, batch pipeline.Batch) error {
	if len(batch.Items) == 0 {
		return nil
	}

	return s.withinTx(ctx, func(tx pgx.Tx) error {
		itemEngine := upsert.New[pipeline.Item](NewItemPort(tx, batch.SourceID), ItemKey, MergeItem)
		items, err := itemEngine.Reconcile(ctx, batch.Items)
		if err != nil {
			return fmt.Errorf("reconcile items: %w", err)
		}
		metrics.ObserveUpsert("item", len(items))

		titles := batch.TagTitles()
		if len(titles) == 0 {
			return nil
		}
		candidates := make([]pipeline.Tag, 0, len(titles))
		for _, title := range titles {
			candidates = append(candidates, pipeline.Tag{Title: title})
		}
		tagEngine := upsert.New[pipeline.Tag](NewTagPort(tx), TagKey, MergeTag)
		tags, err := tagEngine.Reconcile(ctx, candidates)
		if err != nil {
			return fmt.Errorf("reconcile tags: %w", err)
		}
		metrics.ObserveUpsert("tag", len(tags))

		tagIDByTitle := make(map[string]int64, len(tags))
		for _, tag := range tags {
			tagIDByTitle[tag.Title] = tag.ID
		}
		tagsByUID := make(map[string][]string, len(batch.Items))
		for _, item := range batch.Items {
			tagsByUID[item.ExternalUID] = item.Tags
		}

		var itemIDs, tagIDs []int64
		for _, item := range items {
			for _, title := range tagsByUID[item.ExternalUID] {
				tagID, ok := tagIDByTitle[title]
				if !ok {
					continue
				}
				itemIDs = append(itemIDs, item.ID)
				tagIDs = append(tagIDs, tagID)
			}
		}
		return linkItemTags(ctx, tx, itemIDs, tagIDs)
	})
}
