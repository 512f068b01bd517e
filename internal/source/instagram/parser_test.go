package instagram

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseNodeExtractsHashtags(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"id": "321_99",
		"code": "abc",
		"caption": {"text": "Launch day #nasa #space #nasa", "created_at": 1700000000},
		"like_count": 42,
		"comment_count": 7
	}`)

	now := time.Unix(1700000500, 0).UTC()
	item, err := ParseNode(raw, now)
	require.NoError(t, err)

	require.Equal(t, "321", item.ExternalUID)
	require.Equal(t, "Launch day #nasa #space #nasa", item.Description)
	require.Equal(t, []string{"nasa", "space", "nasa"}, item.Tags)
	require.Equal(t, 42, item.LikeCount)
	require.Equal(t, 7, item.CommentCount)
	require.Equal(t, int64(1700000000), item.CreatedAt)
	require.Equal(t, int64(1700000500), item.StoredAt)
}

func TestParseNodeFallsBackToTakenAt(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"id": "555", "taken_at": 1690000000}`)

	item, err := ParseNode(raw, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Equal(t, "555", item.ExternalUID)
	require.Equal(t, int64(1690000000), item.CreatedAt)
	require.Empty(t, item.Tags)
}

func TestParseNodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	_, err := ParseNode(json.RawMessage(`{"caption": {"text": "no id"}}`), now)
	require.Error(t, err)

	_, err = ParseNode(json.RawMessage(`{"id": "1"}`), now)
	require.Error(t, err)

	_, err = ParseNode(json.RawMessage(`not json`), now)
	require.Error(t, err)
}

func TestExtractTagsHandlesPlainText(t *testing.T) {
	t.Parallel()

	require.Empty(t, extractTags("no tags here"))
	require.Equal(t, []string{"one"}, extractTags("just #one tag"))
}
