package coordinator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinymem-dev/tinymem/internal/session"
	"github.com/tinymem-dev/tinymem/internal/store"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	// Token is the bearer token clients must send. Empty disables auth.
	Token  string
	Logger *slog.Logger
}

// Server is the tinymem HTTP adapter. Agents drive their sessions through
// it; every handler is a thin translation onto the session manager or the
// entity store.
type Server struct {
	mgr      *session.Manager
	store    *store.Store
	token    string
	logger   *slog.Logger
	handler  http.Handler
	listener net.Listener
	server   *http.Server
	cancel   context.CancelFunc
}

// NewServer creates a server bound to addr. Use "127.0.0.1:0" for a random
// port.
func NewServer(addr string, mgr *session.Manager, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: binding listener: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		mgr:      mgr,
		store:    mgr.Store(),
		token:    opts.Token,
		logger:   logger,
		listener: ln,
	}
	s.handler = s.routes()

	// Stop cancels baseCtx so blocked asks return instead of holding shutdown.
	baseCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /session", s.handleCreateSession)
	mux.HandleFunc("GET /session", s.handleListSessions)
	mux.HandleFunc("POST /start", s.handleStartSession)
	mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	mux.HandleFunc("GET /session/{id}/hooks", s.handleHooks)
	mux.HandleFunc("POST /session/{id}/hook", s.handleAddHook)
	mux.HandleFunc("POST /session/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /session/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /session/{id}/msg", s.handleMessage)
	mux.HandleFunc("POST /session/{id}/summary", s.handleSummary)
	mux.HandleFunc("POST /session/{id}/done", s.handleDone)
	mux.HandleFunc("GET /history", s.handleHistory)

	mux.HandleFunc("POST /memory/search", s.handleSearchMemory)
	mux.HandleFunc("POST /memory/{session_id}", s.handleSaveMemory)
	mux.HandleFunc("GET /memory/get/{key}", s.handleGetMemory)
	mux.HandleFunc("POST /memory/delete/{key}", s.handleDeleteMemory)

	mux.HandleFunc("POST /chain/search", s.handleSearchChains)
	mux.HandleFunc("POST /chain/{session_id}", s.handleSaveChainLink)
	mux.HandleFunc("GET /chain/get/{chain_name}", s.handleGetChain)
	mux.HandleFunc("POST /chain/delete/{chain_name}", s.handleDeleteChain)
	mux.HandleFunc("GET /chains", s.handleListChains)

	mux.HandleFunc("POST /artifact/save/{session_id}", s.handleSaveArtifact)
	mux.HandleFunc("GET /artifact/{id}", s.handleGetArtifact)
	mux.HandleFunc("POST /artifact/delete/{id}", s.handleDeleteArtifact)
	mux.HandleFunc("GET /artifacts", s.handleListArtifacts)

	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /get/{id...}", s.handleGet)

	return s.authenticate(mux)
}

// Handler returns the server's routes wrapped in auth, for use in tests or
// under another listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the address the server is listening on (e.g. "127.0.0.1:12345").
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests and blocks until Stop. Call in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.Addr())
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop cancels in-flight asks and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if r.URL.Path != "/health" && subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSONStatus(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- sessions ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := s.mgr.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, IDResponse{ID: sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.mgr.ListActive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, SessionsResponse{Sessions: nonNil(ids)})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ClaudeSessionID == "" {
		badRequest(w, "claude_session_id is required")
		return
	}
	sess, reused, err := s.mgr.Start(r.Context(), req.ClaudeSessionID, req.Agent, req.Cwd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, StartResponse{ID: sess.ID, Reused: reused})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	sess, err := s.mgr.Get(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		notFound(w)
		return
	}
	view := SessionView{Session: sess}
	if view.ActiveTool, err = s.store.ActiveTool(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if view.Pending, _, err = s.store.Pending(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleHooks(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	hooks, err := s.store.Hooks(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, HooksResponse{Hooks: nonNil(hooks)})
}

func (s *Server) handleAddHook(w http.ResponseWriter, r *http.Request) {
	var req HookRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.mgr.AppendHook(r.Context(), r.PathValue("id"), req.Kind, req.Task, req.Meta); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Question == "" {
		badRequest(w, "question is required")
		return
	}
	answer, err := s.mgr.Ask(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, AnswerResponse{Answer: answer})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	var req AnswerRequest
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := s.mgr.Get(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		notFound(w)
		return
	}
	if err := s.mgr.Answer(ctx, id, req.Answer); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, AnswerResponse{Answer: req.Answer})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = "agent"
	}
	if err := s.mgr.AppendMessage(r.Context(), r.PathValue("id"), req.Role, req.Content); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSummary takes the summary as the raw request body.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, fmt.Sprintf("reading body: %v", err))
		return
	}
	if err := s.mgr.AppendMessage(r.Context(), r.PathValue("id"), store.RoleSummary, string(body)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.MarkDone(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}
	ids, err := s.mgr.ListHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, SessionsResponse{Sessions: nonNil(ids)})
}

// --- memories ---

func (s *Server) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	var req MemorySaveRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		badRequest(w, "key is required")
		return
	}
	mem := &store.Memory{
		Key:       req.Key,
		SessionID: r.PathValue("session_id"),
		Content:   req.Content,
		Kind:      req.Kind,
		TS:        s.mgr.Now(),
	}
	if err := s.store.SaveMemory(r.Context(), mem); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, SavedResponse{Saved: req.Key})
}

func (s *Server) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	matches, err := s.store.SearchMemory(r.Context(), req.Query, req.limitOr(DefaultSearchLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	keys := make([]KeyMatch, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, KeyMatch{Key: m.Name, Score: m.Score})
	}
	writeJSON(w, KeysResponse{Keys: keys})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := s.store.GetMemory(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if mem == nil {
		notFound(w)
		return
	}
	writeJSON(w, MemoryResponse{Memory: mem})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.DeleteMemory(r.Context(), key); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, DeletedResponse{Deleted: key})
}

// --- chains ---

func (s *Server) handleSaveChainLink(w http.ResponseWriter, r *http.Request) {
	var req ChainSaveRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ChainName == "" || req.Slug == "" {
		badRequest(w, "chain_name and slug are required")
		return
	}
	if strings.Contains(req.ChainName, ":") {
		badRequest(w, "chain_name must not contain ':'")
		return
	}
	link := &store.ChainLink{
		ChainName: req.ChainName,
		SessionID: r.PathValue("session_id"),
		Slug:      req.Slug,
		Content:   req.Content,
		TS:        s.mgr.Now(),
	}
	key, err := s.store.SaveChainLink(r.Context(), link)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ChainSavedResponse{Saved: key, Chain: req.ChainName, Slug: req.Slug})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	name := r.PathValue("chain_name")
	links, err := s.store.ChainLinks(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	writeJSON(w, ChainResponse{Chain: name, Links: nonNil(links), Count: len(links)})
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.store.ListChains(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ChainsResponse{Chains: nonNil(chains)})
}

func (s *Server) handleSearchChains(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	matches, err := s.store.SearchChains(r.Context(), req.Query, req.limitOr(DefaultSearchLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ChainMatchesResponse{Chains: nonNil(matches)})
}

func (s *Server) handleDeleteChain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("chain_name")
	if err := s.store.DeleteChain(r.Context(), name); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, DeletedResponse{Deleted: name})
}

// --- artifacts ---

func (s *Server) handleSaveArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ArtifactSaveRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}
	path, err := resolveArtifactPath(req.FilePath)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	a := store.NewArtifact(r.PathValue("session_id"), path, req.Title, req.Description, s.mgr.Now())
	if err := s.store.SaveArtifact(ctx, a); err != nil {
		s.fail(w, r, err)
		return
	}

	text, ok, err := ExtractText(path)
	switch {
	case err != nil:
		s.logger.Warn("extracting artifact text", "artifact", a.ID, "error", err)
	case ok:
		if err := s.store.SetArtifactText(ctx, a.ID, text); err != nil {
			s.logger.Warn("caching artifact text", "artifact", a.ID, "error", err)
		}
	}
	writeJSON(w, ArtifactSavedResponse{ID: a.ID, FileType: a.FileType})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	a, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if a == nil {
		notFound(w)
		return
	}
	text, _, err := s.store.ArtifactText(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ArtifactResponse{Artifact: a, Text: text})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.store.ListArtifacts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ArtifactsResponse{Artifacts: nonNil(artifacts)})
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteArtifact(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, DeletedResponse{Deleted: id})
}

// --- global ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	results, err := s.store.GlobalSearch(r.Context(), req.Query, req.limitOr(DefaultSearchLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ResultsResponse{Results: nonNil(results)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	entity, err := s.store.GlobalGet(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entity == nil {
		notFound(w)
		return
	}
	writeJSON(w, entity)
}

// fail maps err onto a status code and writes it as {"error": ...}.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, err.Error()
	switch {
	case errors.Is(err, session.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, session.ErrAskTimeout):
		status, msg = http.StatusRequestTimeout, "timeout"
	case errors.Is(err, ErrFileNotFound):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// The client went away or the server is stopping; nobody reads this.
		s.logger.Debug("request cancelled", "path", r.URL.Path)
		return
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSONStatus(w, status, ErrorResponse{Error: msg})
}

func notFound(w http.ResponseWriter) {
	writeJSONStatus(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// queryLimit parses the optional ?limit= parameter.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(w, fmt.Sprintf("invalid limit %q", v))
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// readJSON decodes the request body into v. An empty body leaves v at its
// zero value.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
