package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/sigil/internal/doc"
)

// openTestStore creates a store backed by a temp-dir SQLite file that
// is closed and removed when the test finishes.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDocument(t *testing.T, key, typ, payload string) doc.Document {
	t.Helper()
	data, err := doc.DecodeData([]byte(payload))
	require.NoError(t, err)
	return doc.Document{Key: key, Type: typ, Data: data}
}

func TestWrite_AssignsMonotonicVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Write(ctx, testDocument(t, "/input/doc1", "in@v1", `{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Meta.Version, "versions start at 1")

	second, err := s.Write(ctx, testDocument(t, "/input/doc1", "in@v1", `{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Meta.Version)
	assert.Equal(t, first.Meta.CreatedAt, second.Meta.CreatedAt,
		"created_at is fixed on first write")
	assert.False(t, second.Meta.UpdatedAt.Before(first.Meta.UpdatedAt))

	// Versions are tracked per key.
	other, err := s.Write(ctx, testDocument(t, "/input/doc2", "in@v1", `{}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Meta.Version)
}

func TestRead_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := testDocument(t, "/input/doc1", "in@v1", `{"value":42,"name":"test"}`)
	in.Meta.ProducedBy = "mind"
	_, err := s.Write(ctx, in)
	require.NoError(t, err)

	out, err := s.Read(ctx, "/input/doc1")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "/input/doc1", out.Key)
	assert.Equal(t, "in@v1", out.Type)
	assert.Equal(t, int64(1), out.Meta.Version)
	assert.Equal(t, "mind", out.Meta.ProducedBy)

	obj := out.Data.(map[string]any)
	assert.Equal(t, json.Number("42"), obj["value"], "number literals survive the round trip")
	assert.Equal(t, "test", obj["name"])
}

func TestRead_AbsentKeyReturnsNil(t *testing.T) {
	s := openTestStore(t)

	out, err := s.Read(context.Background(), "/never/written")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestList_Prefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"/sys/mind/patterns/a",
		"/sys/mind/patterns/b/nested",
		"/sys/mindful", // shares a byte prefix, not a path prefix
		"/input/doc1",
	} {
		_, err := s.Write(ctx, testDocument(t, key, "t@v1", `{}`))
		require.NoError(t, err)
	}

	keys, err := s.List(ctx, "/sys/mind/patterns")
	require.NoError(t, err)
	assert.Equal(t, []string{"/sys/mind/patterns/a", "/sys/mind/patterns/b/nested"}, keys)

	all, err := s.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestWatch_DeliversMatchingWritesInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub, err := s.Watch("/input/**")
	require.NoError(t, err)
	defer sub.Close()

	_, err = s.Write(ctx, testDocument(t, "/input/a", "t@v1", `{"n":1}`))
	require.NoError(t, err)
	_, err = s.Write(ctx, testDocument(t, "/other/b", "t@v1", `{"n":2}`))
	require.NoError(t, err)
	_, err = s.Write(ctx, testDocument(t, "/input/deep/c", "t@v1", `{"n":3}`))
	require.NoError(t, err)

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/input/a", first.Key)
	assert.Equal(t, int64(1), first.Meta.Version, "deliveries carry store-assigned metadata")

	second, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/input/deep/c", second.Key, "non-matching writes are filtered")
}

func TestWatch_NextHonorsContext(t *testing.T) {
	s := openTestStore(t)

	sub, err := s.Watch("/**")
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatch_CloseDrainsThenReports(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub, err := s.Watch("/**")
	require.NoError(t, err)

	_, err = s.Write(ctx, testDocument(t, "/input/a", "t@v1", `{}`))
	require.NoError(t, err)

	sub.Close()

	// The pending delivery is still drained after Close.
	d, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/input/a", d.Key)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	// Writes after Close are not delivered.
	_, err = s.Write(ctx, testDocument(t, "/input/b", "t@v1", `{}`))
	require.NoError(t, err)
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestWatch_InvalidGlob(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Watch("no-leading-slash")
	assert.Error(t, err)
}

func TestStoreClose_ClosesSubscriptions(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sigil.db"))
	require.NoError(t, err)

	sub, err := s.Watch("/**")
	require.NoError(t, err)

	require.NoError(t, s.Close())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}
