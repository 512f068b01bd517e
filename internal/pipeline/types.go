// Package pipeline holds the domain types and ports shared by every stage of
// the crawl pipeline: scheduling, crawling, ingestion and notification.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

// SourceKind identifies an external content provider.
type SourceKind string

// KindInstagram is the only provider currently wired in.
const KindInstagram SourceKind = "instagram"

// Account is a tracked provider account the scheduler seeds jobs for.
type Account struct {
	ID       int64
	Username string
	Kind     SourceKind
}

// CrawlJob instructs a worker to crawl one account. Kind routes the job to
// the matching worker subject.
type CrawlJob struct {
	ID       string     `json:"id"`
	Kind     SourceKind `json:"kind"`
	SourceID int64      `json:"source_id"`
	Username string     `json:"username"`
	PageSize int        `json:"page_size"`
	MaxPages int        `json:"max_pages"`
}

// Validate rejects jobs a worker must not execute. Unbounded crawls are
// disallowed: MaxPages must be a positive cutoff.
func (j CrawlJob) Validate() error {
	if j.Username == "" {
		return errors.New("job has no username")
	}
	if j.SourceID <= 0 {
		return fmt.Errorf("job %s has no source id", j.ID)
	}
	if j.PageSize <= 0 {
		return fmt.Errorf("job %s has non-positive page size %d", j.ID, j.PageSize)
	}
	if j.MaxPages <= 0 {
		return fmt.Errorf("job %s has non-positive max pages %d", j.ID, j.MaxPages)
	}
	return nil
}

// Item is one normalized post. ExternalUID is unique per source; ID is the
// store's surrogate key and never crosses the wire.
type Item struct {
	ID           int64    `json:"-"`
	ExternalUID  string   `json:"external_uid"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	LikeCount    int      `json:"like_count"`
	CommentCount int      `json:"comment_count"`
	Tags         []string `json:"tags"`
	CreatedAt    int64    `json:"created_at"`
	StoredAt     int64    `json:"stored_at"`
}

// Batch is the complete result of one crawl job. All items belong to the
// same source account.
type Batch struct {
	SourceID int64  `json:"source_id"`
	Username string `json:"username"`
	Items    []Item `json:"items"`
}

// TagTitles returns the distinct tag titles across the batch, sorted.
func (b Batch) TagTitles() []string {
	seen := make(map[string]struct{})
	for _, item := range b.Items {
		for _, tag := range item.Tags {
			seen[tag] = struct{}{}
		}
	}
	titles := make([]string, 0, len(seen))
	for title := range seen {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}

// Tag is a persisted hashtag. Title is globally unique.
type Tag struct {
	ID    int64
	Title string
}

// Subscription is one subscriber's tag interest in a source.
type Subscription struct {
	SubscriberID int64
	SourceID     int64
	FollowTags   []string
}

// ItemSummary is the trimmed item view carried inside a notification.
type ItemSummary struct {
	ExternalUID string `json:"external_uid"`
	Description string `json:"description"`
	LikeCount   int    `json:"like_count"`
}

// NotificationEvent tells one subscriber that a batch matched their tags.
type NotificationEvent struct {
	ID           string        `json:"id"`
	SubscriberID int64         `json:"subscriber_id"`
	SourceID     int64         `json:"source_id"`
	Username     string        `json:"username"`
	MatchedTags  []string      `json:"matched_tags"`
	Items        []ItemSummary `json:"items"`
}

// PageRequest addresses one timeline page. An empty Cursor means the first
// page.
type PageRequest struct {
	Username string
	PageSize int
	Cursor   string
}

// Page is one fetched timeline page. EndCursor is only meaningful while
// HasNext is true.
type Page struct {
	Items     []Item
	HasNext   bool
	EndCursor string
}
