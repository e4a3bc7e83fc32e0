package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxBytes)
	require.NoError(t, err)
	return c
}

func TestPutGetRoundtrip(t *testing.T) {
	c := newTestCache(t, 0)
	in := map[string]int{"score": 85}
	require.NoError(t, c.Put(KindStatic, Key("k1"), in, 24, 0))

	var out map[string]int
	assert.True(t, c.Get(KindStatic, Key("k1"), &out, 0))
	assert.Equal(t, in, out)

	st := c.Stats()
	assert.Equal(t, 1, st.Hits)
	assert.Equal(t, 0, st.Misses)
}

func TestGetExpiredEntryRemovesFile(t *testing.T) {
	c := newTestCache(t, 0)
	key := Key("stale")
	path := c.entryPath(KindLLM, key)
	b, err := json.Marshal(entry{
		Timestamp: time.Now().Add(-2 * time.Hour),
		TTLHours:  1,
		Payload:   json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	var out map[string]int
	assert.False(t, c.Get(KindLLM, key, &out, 0), "entry past its TTL is a miss")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expired entry file must be removed")
	assert.Equal(t, 1, c.Stats().Misses)
}

func TestGetMtimeMismatch(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put(KindStatic, Key("f"), "v", 24, 111))

	var out string
	assert.True(t, c.Get(KindStatic, Key("f"), &out, 111))
	assert.False(t, c.Get(KindStatic, Key("f"), &out, 222), "changed mtime invalidates the entry")
}

func TestGetCorruptEntryIsMiss(t *testing.T) {
	c := newTestCache(t, 0)
	key := Key("bad")
	require.NoError(t, os.WriteFile(c.entryPath(KindStatic, key), []byte("{not json"), 0o644))
	var out string
	assert.False(t, c.Get(KindStatic, key, &out, 0))
}

func TestFileResultInvalidatesOnChange(t *testing.T) {
	c := newTestCache(t, 0)
	src := filepath.Join(t.TempDir(), "Vault.sol")
	require.NoError(t, os.WriteFile(src, []byte("contract Vault {}"), 0o644))
	require.NoError(t, c.PutFileResult(src, []string{"a"}, 24))

	var out []string
	assert.True(t, c.GetFileResult(src, &out))
	assert.Equal(t, []string{"a"}, out)

	// Rewrite with different content and a bumped mtime.
	require.NoError(t, os.WriteFile(src, []byte("contract Vault { uint x; }"), 0o644))
	future := time.Now().Add(1 * time.Second)
	require.NoError(t, os.Chtimes(src, future, future))
	assert.False(t, c.GetFileResult(src, &out), "edited file must not hit the old entry")
}

func TestSnapshotBlobRoundtrip(t *testing.T) {
	c := newTestCache(t, 0)
	type snap struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, c.SaveBlob("embedding_index", snap{IDs: []string{"a", "b"}}))

	var out snap
	require.True(t, c.LoadBlob("embedding_index", &out))
	assert.Equal(t, []string{"a", "b"}, out.IDs)

	var missing snap
	assert.False(t, c.LoadBlob("nope", &missing))
}

func TestEnforceLimitEvictsOldest(t *testing.T) {
	c := newTestCache(t, 1000)
	payload := make([]byte, 300)
	base := time.Now().Add(-10 * time.Minute)
	for i, key := range []string{"k0", "k1", "k2", "k3", "k4"} {
		require.NoError(t, c.Put(KindStatic, key, payload, 24, 0))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(c.entryPath(KindStatic, key), ts, ts))
	}
	require.Greater(t, c.Size(), int64(1000))

	require.NoError(t, c.EnforceLimit())
	assert.LessOrEqual(t, c.Size(), int64(800), "usage must drop to 80 percent of the cap")

	// Newest entries survive.
	var out []byte
	assert.True(t, c.Get(KindStatic, "k4", &out, 0))
	assert.False(t, c.Get(KindStatic, "k0", &out, 0), "oldest entry evicted first")
}

func TestClearKind(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put(KindStatic, "s", 1, 24, 0))
	require.NoError(t, c.Put(KindLLM, "l", 2, 24, 0))

	require.NoError(t, c.Clear(KindStatic))
	var out int
	assert.False(t, c.Get(KindStatic, "s", &out, 0))
	assert.True(t, c.Get(KindLLM, "l", &out, 0))

	require.NoError(t, c.Clear("all"))
	assert.False(t, c.Get(KindLLM, "l", &out, 0))
	assert.Equal(t, int64(0), c.Size())
}
