package instagram

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

var hashtagPattern = regexp.MustCompile(`#\w+`)

// node is the raw post payload inside a timeline edge.
type node struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Title   string `json:"title"`
	Caption *struct {
		Text      string `json:"text"`
		CreatedAt int64  `json:"created_at"`
	} `json:"caption"`
	TakenAt      int64 `json:"taken_at"`
	LikeCount    int   `json:"like_count"`
	CommentCount int   `json:"comment_count"`
}

// ParseNode normalizes one raw timeline node into an Item. The provider id
// carries a suffix after the first underscore; the prefix is the stable uid.
func ParseNode(raw json.RawMessage, now time.Time) (pipeline.Item, error) {
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return pipeline.Item{}, fmt.Errorf("unmarshal node: %w", err)
	}
	if n.ID == "" {
		return pipeline.Item{}, errors.New("node has no id")
	}

	uid := n.ID
	if i := strings.IndexByte(uid, '_'); i >= 0 {
		uid = uid[:i]
	}

	var description string
	var createdAt int64
	if n.Caption != nil {
		description = n.Caption.Text
		createdAt = n.Caption.CreatedAt
	}
	if createdAt == 0 {
		createdAt = n.TakenAt
	}
	if createdAt == 0 {
		return pipeline.Item{}, fmt.Errorf("node %s has no creation timestamp", n.ID)
	}

	return pipeline.Item{
		ExternalUID:  uid,
		Title:        n.Title,
		Description:  description,
		LikeCount:    n.LikeCount,
		CommentCount: n.CommentCount,
		Tags:         extractTags(description),
		CreatedAt:    createdAt,
		StoredAt:     now.Unix(),
	}, nil
}

// extractTags pulls #hashtag tokens out of the caption text, without the
// leading '#'.
func extractTags(text string) []string {
	matches := hashtagPattern.FindAllString(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.TrimPrefix(m, "#"))
	}
	return tags
}
