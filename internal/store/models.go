package store

import "encoding/json"

// StatusType names a session state.
type StatusType string

const (
	StatusActive  StatusType = "Active"
	StatusWaiting StatusType = "Waiting"
	StatusDone    StatusType = "Done"
)

// Status is a session state. Question and AskedAt are set only while Waiting.
// It encodes as {"type":"Waiting","question":"...","asked_at":N}.
type Status struct {
	Type     StatusType `json:"type"`
	Question string     `json:"question,omitempty"`
	AskedAt  int64      `json:"asked_at,omitempty"`
}

func Active() Status { return Status{Type: StatusActive} }
func Done() Status   { return Status{Type: StatusDone} }

func Waiting(question string, askedAt int64) Status {
	return Status{Type: StatusWaiting, Question: question, AskedAt: askedAt}
}

func (s Status) String() string { return string(s.Type) }

// Session is one tracked unit of agent work.
type Session struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Agent        string `json:"agent"`
	Cwd          string `json:"cwd"`
	Status       Status `json:"status"`
	Created      int64  `json:"created"`
	LastActivity int64  `json:"last_activity"`
}

// DisplayName returns Name, falling back to ID.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Hook is an append-only lifecycle event. Kind "pre" marks a tool about to run.
type Hook struct {
	TS   int64           `json:"ts"`
	Kind string          `json:"kind"`
	Task string          `json:"task"`
	Meta json.RawMessage `json:"meta"`
}

// HookKindPre marks a hook recorded just before a tool runs.
const HookKindPre = "pre"

// Message is a free-form note attached to a session.
type Message struct {
	TS      int64  `json:"ts"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleSummary is the message role used for session summaries.
const RoleSummary = "summary"

// ChainLink is one checkpoint in a named chain.
type ChainLink struct {
	ChainName string `json:"chain_name"`
	SessionID string `json:"session_id"`
	Slug      string `json:"slug"`
	Content   string `json:"content"`
	TS        int64  `json:"ts"`
}

// ChainSummary is a chain name with its link count.
type ChainSummary struct {
	Name  string `json:"name"`
	Links int    `json:"links"`
}

// Memory is a key-addressed note. Saving the same key overwrites it.
type Memory struct {
	Key       string `json:"key"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	TS        int64  `json:"ts"`
}

// DefaultMemoryKind is used when a memory is saved without a kind.
const DefaultMemoryKind = "insight"

// Artifact references a file on disk plus searchable metadata.
type Artifact struct {
	ID          string `json:"id"`
	FilePath    string `json:"file_path"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
	FileType    string `json:"file_type"`
	TS          int64  `json:"ts"`
}

// Result types reported by global search.
const (
	ResultChainLink = "chain_link"
	ResultArtifact  = "artifact"
)

// SearchResult is one global search hit. ID is a composite id accepted by
// Store.GlobalGet.
type SearchResult struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Preview string  `json:"preview"`
}

// Entity is the payload returned by Store.GlobalGet. Text holds the chain
// link content or the artifact's cached text ("" when nothing is cached).
type Entity struct {
	Type      string     `json:"type"`
	ChainLink *ChainLink `json:"chain_link,omitempty"`
	Artifact  *Artifact  `json:"artifact,omitempty"`
	Text      string     `json:"text"`
}
