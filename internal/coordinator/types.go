// Package coordinator exposes the tinymem core over HTTP and bridges MCP
// tool calls from agents onto that HTTP surface.
package coordinator

import (
	"encoding/json"

	"github.com/tinymem-dev/tinymem/internal/score"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// Default result limits applied when a request omits "limit".
const (
	DefaultSearchLimit      = 25
	DefaultChainLoadLimit   = 5
	DefaultChainSearchLimit = 10
)

// StartRequest resumes or creates the session mapped to an agent's own id.
type StartRequest struct {
	ClaudeSessionID string `json:"claude_session_id"`
	Agent           string `json:"agent"`
	Cwd             string `json:"cwd"`
}

type HookRequest struct {
	Kind string          `json:"kind"`
	Task string          `json:"task"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

type MessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type AnswerRequest struct {
	Answer string `json:"answer"`
}

type MemorySaveRequest struct {
	Key     string `json:"key"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

// SearchRequest is shared by memory, chain and global search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (r SearchRequest) limitOr(def int) int {
	if r.Limit <= 0 {
		return def
	}
	return r.Limit
}

type ChainSaveRequest struct {
	ChainName string `json:"chain_name"`
	Slug      string `json:"slug"`
	Content   string `json:"content"`
}

type ArtifactSaveRequest struct {
	FilePath    string `json:"file_path"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type StartResponse struct {
	ID     string `json:"id"`
	Reused bool   `json:"reused"`
}

type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}

type SessionView struct {
	*store.Session
	ActiveTool string `json:"active_tool,omitempty"`
	Pending    string `json:"pending,omitempty"`
}

type HooksResponse struct {
	Hooks []store.Hook `json:"hooks"`
}

type AnswerResponse struct {
	Answer string `json:"answer"`
}

type SavedResponse struct {
	Saved string `json:"saved"`
}

type DeletedResponse struct {
	Deleted string `json:"deleted"`
}

type MemoryResponse struct {
	Memory *store.Memory `json:"memory"`
}

// KeyMatch is one memory search hit.
type KeyMatch struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

type KeysResponse struct {
	Keys []KeyMatch `json:"keys"`
}

type ChainSavedResponse struct {
	Saved string `json:"saved"`
	Chain string `json:"chain"`
	Slug  string `json:"slug"`
}

type ChainResponse struct {
	Chain string            `json:"chain"`
	Links []store.ChainLink `json:"links"`
	Count int               `json:"count"`
}

type ChainsResponse struct {
	Chains []store.ChainSummary `json:"chains"`
}

type ChainMatchesResponse struct {
	Chains []score.Match `json:"chains"`
}

type ArtifactSavedResponse struct {
	ID       string `json:"id"`
	FileType string `json:"file_type"`
}

type ArtifactResponse struct {
	Artifact *store.Artifact `json:"artifact"`
	Text     string          `json:"text"`
}

type ArtifactsResponse struct {
	Artifacts []store.Artifact `json:"artifacts"`
}

type ResultsResponse struct {
	Results []store.SearchResult `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
