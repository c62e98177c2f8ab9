package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	setup(trie.DefaultCacheSize)
	srv := httptest.NewServer(router())
	t.Cleanup(srv.Close)
	return srv
}

func grantAll(t *testing.T, addr string) {
	t.Helper()
	for _, g := range []scopeapi.GrantRequest{
		{Scope: "a", Values: []string{"1"}},
		{Scope: "a.b", Values: []string{"2"}},
		{Scope: "a.c", Values: []string{"3"}},
		{Scope: "a.b.d", Values: []string{"4"}},
		{Scope: "a", Values: []string{"5"}},
		{Scope: "a.b", Values: []string{"6"}},
	} {
		g := g
		require.NoError(t, scopeapi.Grant(&g, addr))
	}
}

func TestGrantAndQuery(t *testing.T) {
	srv := newServer(t)
	grantAll(t, srv.URL)

	all, err := scopeapi.GetGranted("a", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "5", "2", "6", "3", "4"}, all.Values)

	exact, err := scopeapi.GetGrantedExact("a.b", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "6"}, exact.Values)

	missing, err := scopeapi.GetGranted("nowhere", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{}, missing.Values)

	rel, err := scopeapi.PostRelevant([]string{"a", "a.d", "a.b.c", "a.c"}, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.c"}, rel.Scopes)

	ok, err := scopeapi.GetAllows("a", "4", srv.URL)
	require.NoError(t, err)
	assert.True(t, ok.Allowed)
	ok, err = scopeapi.GetAllows("a.c", "4", srv.URL)
	require.NoError(t, err)
	assert.False(t, ok.Allowed)

	k, err := scopeapi.GetKeys(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.b", "a.b.d", "a.c"}, k.Keys)
}

func TestBadRequests(t *testing.T) {
	srv := newServer(t)

	err := scopeapi.Grant(&scopeapi.GrantRequest{Scope: "..", Values: []string{"x"}}, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path")

	_, err = scopeapi.GetGranted("", srv.URL)
	assert.Error(t, err)

	_, err = scopeapi.GetAllows("a", "", srv.URL)
	assert.Error(t, err)

	resp, err := http.Post(srv.URL+"/api/relevant", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSnapshotOverwrite(t *testing.T) {
	srv := newServer(t)
	grantAll(t, srv.URL)

	snap, err := scopeapi.GetSnapshot(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), snap.Revision)

	require.NoError(t, scopeapi.Grant(&scopeapi.GrantRequest{Scope: "later", Values: []string{"x"}}, srv.URL))

	for i := 0; i < 10; i++ {
		require.NoError(t, scopeapi.PutSnapshot(snap, srv.URL))
		all, err := scopeapi.GetGranted("a", srv.URL)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "5", "2", "6", "3", "4"}, all.Values)
		later, err := scopeapi.GetGranted("later", srv.URL)
		require.NoError(t, err)
		assert.Empty(t, later.Values)
	}

	stats, err := scopeapi.GetStatistics(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, snap.Revision, stats.Revision)
	assert.Equal(t, snap.Generation, stats.Generation)
	assert.Equal(t, 4, stats.Index.Nodes)
}

func TestSnapshotOverwriteMalformed(t *testing.T) {
	srv := newServer(t)
	grantAll(t, srv.URL)

	bad := scopeapi.WireSnapshot{
		Revision: 99,
		Index: trie.Snapshot[string]{
			Children: []trie.Snapshot[string]{{Segment: "x"}, {Segment: "x"}},
		},
	}
	err := scopeapi.PutSnapshot(&bad, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate segment")

	k, err := scopeapi.GetKeys(srv.URL)
	require.NoError(t, err)
	assert.Empty(t, k.Keys)
}

func TestPeersAndSweep(t *testing.T) {
	srv := newServer(t)
	require.NoError(t, scopeapi.Grant(&scopeapi.GrantRequest{Scope: "stale", Values: []string{"old"}}, srv.URL))

	newer := scopeapi.WireSnapshot{
		Revision:   50,
		Generation: uuid.New(),
		Index: trie.Snapshot[string]{
			Children: []trie.Snapshot[string]{
				{Segment: "realm", Children: []trie.Snapshot[string]{{Segment: "admin", Values: []string{"alice"}}}},
			},
		},
	}
	older := newer
	older.Revision = 0

	serve := func(s scopeapi.WireSnapshot) *httptest.Server {
		p := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(s)
		}))
		t.Cleanup(p.Close)
		return p
	}
	oldPeer := serve(older)
	newPeer := serve(newer)

	require.NoError(t, scopeapi.PutPeers(&scopeapi.Peerage{Peers: []string{oldPeer.URL, "http://127.0.0.1:1", newPeer.URL}}, srv.URL))
	peers, err := scopeapi.GetPeers(srv.URL)
	require.NoError(t, err)
	assert.Len(t, peers.Peers, 3)

	resp, err := http.Post(srv.URL+"/api/peers/sweep", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	updated := scopeapi.Peerage{}
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, []string{newPeer.URL}, updated.Peers)

	all, err := scopeapi.GetGranted("realm", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, all.Values)
	stale, err := scopeapi.GetGranted("stale", srv.URL)
	require.NoError(t, err)
	assert.Empty(t, stale.Values)

	// same revision again is not newer
	require.NoError(t, scopeapi.PostSweep(srv.URL))
	stats, err := scopeapi.GetStatistics(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), stats.Revision)
}

func TestSweepKeepsStateOnBadPeer(t *testing.T) {
	srv := newServer(t)
	require.NoError(t, scopeapi.Grant(&scopeapi.GrantRequest{Scope: "chat.read", Values: []string{"alice"}}, srv.URL))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"revision":99,"generation":"`+uuid.NewString()+`","index":{"segment":"","children":[{"segment":"x"},{"segment":"x"}]}}`)
	}))
	t.Cleanup(bad.Close)
	require.NoError(t, scopeapi.PutPeers(&scopeapi.Peerage{Peers: []string{bad.URL}}, srv.URL))

	for i := 0; i < 3; i++ {
		require.NoError(t, scopeapi.PostSweep(srv.URL))
	}

	all, err := scopeapi.GetGranted("chat", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, all.Values)
	k, err := scopeapi.GetKeys(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "chat.read"}, k.Keys)
	stats, err := scopeapi.GetStatistics(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Revision)
}

func TestAutoSweepToggle(t *testing.T) {
	srv := newServer(t)
	assert.False(t, GLOBAL_CURRENT_SWEEP_STATE.IsSweeping())
	require.NoError(t, scopeapi.PutAutoSweeps(srv.URL))
	assert.True(t, GLOBAL_CURRENT_SWEEP_STATE.IsSweeping())
	require.NoError(t, scopeapi.DeleteAutoSweeps(srv.URL))
	assert.False(t, GLOBAL_CURRENT_SWEEP_STATE.IsSweeping())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t)
	grantAll(t, srv.URL)
	_, err := scopeapi.GetGranted("a", srv.URL)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(body, []byte(`scoped_registry_operations_total{op="grant"} 6`)), string(body))
	assert.True(t, bytes.Contains(body, []byte("scoped_registry_nodes 4")))
}
