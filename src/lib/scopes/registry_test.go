package scopes

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

func chatRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Grant("chat", "moderator"))
	require.NoError(t, r.Grant("chat.messages.read", "alice", "bob"))
	require.NoError(t, r.Grant("chat.messages", "carol"))
	require.NoError(t, r.Grant("lobby.join"))
	return r
}

func TestGranted(t *testing.T) {
	r := chatRegistry(t)
	assert.Equal(t, []string{"moderator", "carol", "alice", "bob"}, r.Granted("chat"))
	assert.Equal(t, []string{"carol"}, r.GrantedExact("chat.messages"))
	assert.Equal(t, []string{}, r.Granted("party"))
	assert.Equal(t, []string{}, r.Granted("lobby"))
}

func TestAllows(t *testing.T) {
	r := chatRegistry(t)
	tests := []struct {
		scope     string
		principal string
		want      bool
	}{
		{"chat", "alice", false},
		{"chat", "moderator", true},
		{"chat.messages.read", "alice", true},
		{"chat.messages.read", "moderator", true},
		{"chat.messages.read.all", "alice", true},
		{"chat.messages", "bob", false},
		{"chat.messages", "carol", true},
		{"party", "alice", false},
		{"..", "moderator", false},
	}
	for _, tt := range tests {
		t.Run(tt.scope+"/"+tt.principal, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Allows(tt.scope, tt.principal))
		})
	}
}

func TestRelevant(t *testing.T) {
	r := chatRegistry(t)
	got := r.Relevant([]string{"lobby", "lobby.join", "lobby.join.fast", "chat.messages", "realm"})
	assert.Equal(t, []string{"lobby", "lobby.join", "chat.messages"}, got)
}

func TestGrantInvalid(t *testing.T) {
	r := NewRegistry()
	before := r.Revision()
	assert.ErrorIs(t, r.Grant("..", "x"), trie.ErrInvalidPath)
	assert.Equal(t, before, r.Revision())
}

func TestRevisionAndGeneration(t *testing.T) {
	r := NewRegistry()
	g0 := r.Generation()
	require.NoError(t, r.Grant("a", "x"))
	assert.Equal(t, uint64(1), r.Revision())
	assert.NotEqual(t, g0, r.Generation())
}

func TestSwapIn(t *testing.T) {
	src := chatRegistry(t)
	snap := src.Snapshot()
	assert.Equal(t, uint64(4), snap.Revision)

	dst := NewRegistry()
	require.NoError(t, dst.Grant("stale.scope", "eve"))
	assert.Equal(t, []string{"eve"}, dst.Granted("stale"))

	for i := 0; i < 10; i++ {
		require.NoError(t, dst.SwapIn(snap))
		assert.Equal(t, src.Granted("chat"), dst.Granted("chat"))
		assert.Equal(t, []string{}, dst.Granted("stale"))
		assert.Equal(t, src.Keys(), dst.Keys())
	}
	assert.Equal(t, snap.Revision, dst.Revision())
	assert.Equal(t, snap.Generation, dst.Generation())
}

func TestSwapInMalformed(t *testing.T) {
	r := chatRegistry(t)
	snap := r.Snapshot()
	snap.Index.Segment = "bogus"

	err := r.SwapIn(snap)
	var de *trie.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Empty(t, r.Keys())
	assert.Equal(t, []string{}, r.Granted("chat"))
	assert.Equal(t, uint64(5), r.Revision())
}

func TestSwapInIfNewer(t *testing.T) {
	src := chatRegistry(t)
	snap := src.Snapshot()

	dst := NewRegistry()
	require.NoError(t, dst.Grant("stale", "eve"))

	ok, err := dst.SwapInIfNewer(snap)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, src.Keys(), dst.Keys())

	ok, err = dst.SwapInIfNewer(snap)
	require.NoError(t, err)
	assert.False(t, ok, "same revision adopted twice")
}

func TestSwapInIfNewerRejectsDuplicateSegments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Grant("chat.read", "alice"))
	before := r.Generation()

	bad := scopeapi.WireSnapshot{
		Revision:   99,
		Generation: uuid.New(),
		Index: trie.Snapshot[string]{
			Children: []trie.Snapshot[string]{{Segment: "x"}, {Segment: "x"}},
		},
	}
	for i := 0; i < 3; i++ {
		ok, err := r.SwapInIfNewer(bad)
		var de *trie.DecodeError
		require.ErrorAs(t, err, &de)
		assert.False(t, ok)
	}
	assert.Equal(t, []string{"chat", "chat.read"}, r.Keys())
	assert.Equal(t, []string{"alice"}, r.Granted("chat"))
	assert.Equal(t, uint64(1), r.Revision())
	assert.Equal(t, before, r.Generation())
}

func TestConcurrentUse(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := chatRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					_ = r.Grant("chat.messages.read", "x")
				} else {
					_ = r.Granted("chat")
					_ = r.Relevant([]string{"chat.messages"})
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.GrantedExact("chat.messages.read"), 2+400)
}

func TestMetrics(t *testing.T) {
	r := chatRegistry(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, r.Register(reg))

	r.Granted("chat")
	r.Granted("chat")

	assert.Equal(t, float64(2), testutil.ToFloat64(r.ops.WithLabelValues("granted")))
	expected := `
# HELP scoped_registry_nodes Scopes known to the registry
# TYPE scoped_registry_nodes gauge
scoped_registry_nodes 5
# HELP scoped_registry_cache_hits_total Granted queries answered from the cache
# TYPE scoped_registry_cache_hits_total counter
scoped_registry_cache_hits_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"scoped_registry_nodes", "scoped_registry_cache_hits_total"))
}

func TestLoadScopes(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "scopes.yaml")
	doc := `
scopes:
  - scope: realm.admin
    grants: [alice]
  - scope: realm
    grants: [bob, carol]
  - scope: content.upload
`
	require.NoError(t, os.WriteFile(filename, []byte(doc), 0o600))

	f, err := LoadScopes(filename)
	require.NoError(t, err)
	require.Len(t, f.Scopes, 3)

	r := NewRegistry()
	require.NoError(t, r.Load(f))
	assert.Equal(t, []string{"bob", "carol", "alice"}, r.Granted("realm"))
	assert.Equal(t, []string{"realm", "realm.admin", "content", "content.upload"}, r.Keys())
}

func TestParseScopesInvalid(t *testing.T) {
	_, err := ParseScopes([]byte("scopes:\n  - scope: \"..\"\n"))
	assert.ErrorIs(t, err, trie.ErrInvalidPath)

	_, err = ParseScopes([]byte("scopes: [ {"))
	assert.Error(t, err)

	_, err = LoadScopes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPeers(t *testing.T) {
	p := NewPeers()
	assert.Empty(t, p.GetPeers())

	in := []string{"http://a:1337", "http://b:1337"}
	p.SetPeers(in)
	in[0] = "changed"
	got := p.GetPeers()
	assert.Equal(t, []string{"http://a:1337", "http://b:1337"}, got)
	got[1] = "changed"
	assert.Equal(t, 2, p.Length())
	assert.Equal(t, "http://b:1337", p.GetPeers()[1])
}
