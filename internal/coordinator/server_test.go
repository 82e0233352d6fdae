package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
	"github.com/tinymem-dev/tinymem/internal/testutil"
)

// tickingClock advances one second on every read so records written in
// quick succession get distinct timestamps.
func tickingClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time { return time.Unix(1_700_000_000+n.Add(1), 0) }
}

func newTestServer(t *testing.T, token string) (*Server, string) {
	t.Helper()
	st := store.New(testutil.NewKV(t), nil)
	mgr := session.NewManager(st, nil, nil, session.Config{
		PollInterval: 10 * time.Millisecond,
		AskTimeout:   300 * time.Millisecond,
		Now:          tickingClock(),
	})
	srv, err := NewServer("127.0.0.1:0", mgr, Options{Token: token})
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, "http://" + srv.Addr()
}

// do sends body as JSON (a string body is sent verbatim) and decodes the
// response into out when out is non-nil. It returns the status code.
func do(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAuth(t *testing.T) {
	_, base := newTestServer(t, "secret")

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"missing token", "/session", "", http.StatusUnauthorized},
		{"wrong token", "/session", "nope", http.StatusUnauthorized},
		{"right token", "/session", "secret", http.StatusOK},
		{"health is open", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, http.MethodGet, base+tt.path, tt.token, nil, nil))
		})
	}
}

func TestNoTokenMeansOpen(t *testing.T) {
	_, base := newTestServer(t, "")
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/session", "", nil, nil))
}

func TestSessionRoutes(t *testing.T) {
	_, base := newTestServer(t, "")

	var created IDResponse
	code := do(t, http.MethodPost, base+"/session", "", session.CreateRequest{Agent: "claude", Name: "refactor", Cwd: "/w"}, &created)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "refactor", created.ID)

	var list SessionsResponse
	do(t, http.MethodGet, base+"/session", "", nil, &list)
	assert.Contains(t, list.Sessions, "refactor")

	// Hooks drive the active tool shown on the session.
	hook := HookRequest{Kind: "pre", Task: "Bash", Meta: json.RawMessage(`{"cmd":"go test"}`)}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/refactor/hook", "", hook, nil))

	var view map[string]any
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/session/refactor", "", nil, &view))
	assert.Equal(t, "Bash", view["active_tool"])
	assert.Equal(t, "claude", view["agent"])
	assert.Equal(t, map[string]any{"type": "Active"}, view["status"])

	var hooks HooksResponse
	do(t, http.MethodGet, base+"/session/refactor/hooks?limit=5", "", nil, &hooks)
	require.Len(t, hooks.Hooks, 1)
	assert.Equal(t, "Bash", hooks.Hooks[0].Task)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/refactor/msg", "", MessageRequest{Content: "halfway"}, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/refactor/summary", "", "all done", nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/refactor/done", "", nil, nil))

	var history SessionsResponse
	do(t, http.MethodGet, base+"/history", "", nil, &history)
	assert.Equal(t, []string{"refactor"}, history.Sessions)
	do(t, http.MethodGet, base+"/session", "", nil, &list)
	assert.NotContains(t, list.Sessions, "refactor")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/session/ghost", "", nil, &errResp))
	assert.Equal(t, "not found", errResp.Error)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, base+"/history?limit=abc", "", nil, nil))
}

func TestStartReusesMapping(t *testing.T) {
	_, base := newTestServer(t, "")
	req := StartRequest{ClaudeSessionID: "ext-1", Agent: "claude", Cwd: "/w"}

	var first, second StartResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/start", "", req, &first))
	assert.False(t, first.Reused)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/"+first.ID+"/done", "", nil, nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/start", "", req, &second))
	assert.True(t, second.Reused)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/start", "", StartRequest{Agent: "x"}, nil))
}

func TestAskAnsweredOverHTTP(t *testing.T) {
	_, base := newTestServer(t, "")
	var created IDResponse
	do(t, http.MethodPost, base+"/session", "", session.CreateRequest{Agent: "claude"}, &created)
	id := created.ID

	type result struct {
		code int
		resp AnswerResponse
	}
	done := make(chan result, 1)
	go func() {
		var r result
		resp, err := http.Post(base+"/session/"+id+"/ask", "application/json", strings.NewReader(`{"question":"deploy now?"}`))
		if err == nil {
			r.code = resp.StatusCode
			_ = json.NewDecoder(resp.Body).Decode(&r.resp)
			resp.Body.Close()
		}
		done <- r
	}()

	require.Eventually(t, func() bool {
		var view map[string]any
		do(t, http.MethodGet, base+"/session/"+id, "", nil, &view)
		return view["pending"] == "deploy now?"
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/session/"+id+"/answer", "", AnswerRequest{Answer: "yes"}, nil))

	select {
	case r := <-done:
		assert.Equal(t, http.StatusOK, r.code)
		assert.Equal(t, "yes", r.resp.Answer)
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return")
	}

	var view map[string]any
	do(t, http.MethodGet, base+"/session/"+id, "", nil, &view)
	assert.Equal(t, map[string]any{"type": "Active"}, view["status"])
	assert.Nil(t, view["pending"])
}

func TestAskTimeoutOverHTTP(t *testing.T) {
	_, base := newTestServer(t, "")
	var created IDResponse
	do(t, http.MethodPost, base+"/session", "", session.CreateRequest{Agent: "claude"}, &created)

	var errResp ErrorResponse
	code := do(t, http.MethodPost, base+"/session/"+created.ID+"/ask", "", AskRequest{Question: "anyone?"}, &errResp)
	assert.Equal(t, http.StatusRequestTimeout, code)
	assert.Equal(t, "timeout", errResp.Error)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, base+"/session/ghost/ask", "", AskRequest{Question: "?"}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, base+"/session/ghost/answer", "", AnswerRequest{Answer: "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/session/"+created.ID+"/ask", "", "{not json", nil))
}

func TestMemoryRoutes(t *testing.T) {
	_, base := newTestServer(t, "")

	for _, key := range []string{"postgres_connection_pool_config", "react_useeffect_async_cleanup"} {
		var saved SavedResponse
		require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/memory/s1", "", MemorySaveRequest{Key: key, Content: "body of " + key}, &saved))
		assert.Equal(t, key, saved.Saved)
	}

	var keys KeysResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/memory/search", "", SearchRequest{Query: "postgres pool", Limit: 1}, &keys))
	require.Len(t, keys.Keys, 1)
	assert.Equal(t, "postgres_connection_pool_config", keys.Keys[0].Key)

	var got MemoryResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/memory/get/postgres_connection_pool_config", "", nil, &got))
	assert.Equal(t, "s1", got.Memory.SessionID)
	assert.Equal(t, store.DefaultMemoryKind, got.Memory.Kind)

	var deleted DeletedResponse
	do(t, http.MethodPost, base+"/memory/delete/postgres_connection_pool_config", "", nil, &deleted)
	assert.Equal(t, "postgres_connection_pool_config", deleted.Deleted)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/memory/get/postgres_connection_pool_config", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/memory/s1", "", MemorySaveRequest{Content: "no key"}, nil))
}

func TestChainRoutes(t *testing.T) {
	_, base := newTestServer(t, "")

	for _, slug := range []string{"design", "implement", "review"} {
		var saved ChainSavedResponse
		req := ChainSaveRequest{ChainName: "auth-feature", Slug: slug, Content: "## " + slug}
		require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/chain/s1", "", req, &saved))
		assert.True(t, strings.HasPrefix(saved.Saved, "chains:auth-feature:"))
		assert.Equal(t, slug, saved.Slug)
	}

	var chain ChainResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/chain/get/auth-feature?limit=2", "", nil, &chain))
	assert.Equal(t, 2, chain.Count)
	assert.Equal(t, "review", chain.Links[0].Slug)
	assert.Equal(t, "implement", chain.Links[1].Slug)

	var chains ChainsResponse
	do(t, http.MethodGet, base+"/chains", "", nil, &chains)
	assert.Equal(t, []store.ChainSummary{{Name: "auth-feature", Links: 3}}, chains.Chains)

	var matches ChainMatchesResponse
	do(t, http.MethodPost, base+"/chain/search", "", SearchRequest{Query: "auth"}, &matches)
	require.Len(t, matches.Chains, 1)
	assert.Equal(t, "auth-feature", matches.Chains[0].Name)

	var entity store.Entity
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/get/chain:auth-feature:implement", "", nil, &entity))
	assert.Equal(t, "## implement", entity.Text)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/chain/delete/auth-feature", "", nil, nil))
	do(t, http.MethodGet, base+"/chains", "", nil, &chains)
	assert.Empty(t, chains.Chains)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/get/chain:auth-feature:implement", "", nil, nil))

	bad := ChainSaveRequest{ChainName: "a:b", Slug: "x"}
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/chain/s1", "", bad, nil))
}

func TestArtifactRoutes(t *testing.T) {
	_, base := newTestServer(t, "")
	dir := testutil.TempFiles(t, testutil.ArtifactFiles())

	var saved ArtifactSavedResponse
	req := ArtifactSaveRequest{FilePath: filepath.Join(dir, "notes/design.md"), Title: "Pooling notes", Description: "db tuning"}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/artifact/save/s1", "", req, &saved))
	assert.Equal(t, "md", saved.FileType)
	assert.True(t, strings.HasSuffix(saved.ID, "_pooling_notes"))

	var pdf ArtifactSavedResponse
	req = ArtifactSaveRequest{FilePath: filepath.Join(dir, "reports/audit.pdf"), Title: "Audit"}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/artifact/save/s1", "", req, &pdf))

	var got ArtifactResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/artifact/"+saved.ID, "", nil, &got))
	assert.Contains(t, got.Text, "pgbouncer")
	assert.True(t, filepath.IsAbs(got.Artifact.FilePath))

	var pdfGot ArtifactResponse
	do(t, http.MethodGet, base+"/artifact/"+pdf.ID, "", nil, &pdfGot)
	assert.Empty(t, pdfGot.Text)

	var results ResultsResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/search", "", SearchRequest{Query: "pgbouncer"}, &results))
	require.NotEmpty(t, results.Results)
	assert.Equal(t, store.ArtifactRef(saved.ID), results.Results[0].ID)
	assert.Equal(t, store.ResultArtifact, results.Results[0].Type)

	var entity store.Entity
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base+"/get/"+store.ArtifactRef(saved.ID), "", nil, &entity))
	assert.Equal(t, "Pooling notes", entity.Artifact.Title)
	assert.Contains(t, entity.Text, "transaction mode")

	var list ArtifactsResponse
	do(t, http.MethodGet, base+"/artifacts", "", nil, &list)
	assert.Len(t, list.Artifacts, 2)

	var errResp ErrorResponse
	missing := ArtifactSaveRequest{FilePath: filepath.Join(dir, "nope.md"), Title: "Missing"}
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/artifact/save/s1", "", missing, &errResp))
	assert.Contains(t, errResp.Error, "file not found")

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, base+"/artifact/delete/"+saved.ID, "", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/artifact/"+saved.ID, "", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, base+"/get/unknown:thing", "", nil, nil))
}

func TestStopEndsPendingAsk(t *testing.T) {
	st := store.New(testutil.NewKV(t), nil)
	mgr := session.NewManager(st, nil, nil, session.Config{PollInterval: 10 * time.Millisecond, AskTimeout: time.Minute})
	srv, err := NewServer("127.0.0.1:0", mgr, Options{})
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	base := "http://" + srv.Addr()

	sess, err := mgr.Create(context.Background(), session.CreateRequest{Agent: "claude"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(base+"/session/"+sess.ID+"/ask", "application/json", strings.NewReader(`{"question":"?"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	require.Eventually(t, func() bool {
		_, ok, _ := mgr.Pending(context.Background(), sess.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ask survived shutdown")
	}
	_, ok, err := mgr.Pending(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
