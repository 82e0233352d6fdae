package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tinymem-dev/tinymem/prompts"
)

// DefaultGetMaxChars bounds how much entity text one tinymem_get returns.
const DefaultGetMaxChars = 8000

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// BaseURL is the tinymem HTTP server, e.g. http://localhost:3000.
	BaseURL string
	Token   string
	Version string
	// Timeout bounds each HTTP call. It must exceed the server's ask
	// timeout or tinymem_ask gives up before the human does.
	Timeout time.Duration
}

// Bridge is an MCP stdio server whose tools forward to the tinymem HTTP API.
type Bridge struct {
	base   string
	token  string
	client *http.Client
	server *server.MCPServer
}

// NewBridge builds the bridge and registers its tools.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 330 * time.Second
	}
	b := &Bridge{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		client: &http.Client{Timeout: opts.Timeout},
	}
	b.server = server.NewMCPServer(
		"tinymem",
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	b.server.AddTools(b.tools()...)
	return b
}

// MCPServer returns the underlying MCP server.
func (b *Bridge) MCPServer() *server.MCPServer { return b.server }

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(b.server).Listen(ctx, in, out)
}

func (b *Bridge) tools() []server.ServerTool {
	sessionID := mcp.WithString("session_id", mcp.Required(),
		mcp.Description("Session ID (from TINYMEM_SESSION env)"))

	return []server.ServerTool{
		{
			Tool: mcp.NewTool("tinymem_ask",
				mcp.WithDescription("Ask a question to the user via the tinymem dashboard. Blocks until answered or timed out."),
				sessionID,
				mcp.WithString("question", mcp.Required(), mcp.Description("Question to ask the user")),
			),
			Handler: b.handleAsk,
		},
		{
			Tool: mcp.NewTool("tinymem_msg",
				mcp.WithDescription("Send a message/note to the tinymem session log."),
				sessionID,
				mcp.WithString("content", mcp.Required(), mcp.Description("Message content")),
			),
			Handler: b.handleMsg,
		},
		{
			Tool: mcp.NewTool("tinymem_save",
				mcp.WithDescription(strings.TrimSpace(prompts.SaveToolDescription)),
				sessionID,
				mcp.WithString("key", mcp.Required(),
					mcp.Description("Descriptive key for fuzzy search (lowercase, underscores, 3-6 words)")),
				mcp.WithString("content", mcp.Required(),
					mcp.Description("Memory content (insight, code, pattern, etc.)")),
				mcp.WithString("kind",
					mcp.Description("Type of memory: insight, code, message, pattern"),
					mcp.Enum("insight", "code", "message", "pattern"),
					mcp.DefaultString("insight")),
			),
			Handler: b.handleSave,
		},
		{
			Tool: mcp.NewTool("tinymem_memory_search",
				mcp.WithDescription("Fuzzy search memories by key. Returns {key, score} pairs sorted by relevance; fetch one with tinymem_memory_get."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search query (fuzzy matched against memory keys)")),
				mcp.WithNumber("limit", mcp.Description("Maximum results to return"), mcp.DefaultNumber(DefaultSearchLimit)),
			),
			Handler: b.handleMemorySearch,
		},
		{
			Tool: mcp.NewTool("tinymem_memory_get",
				mcp.WithDescription("Retrieve a memory by exact key, including kind, session_id and timestamp."),
				mcp.WithString("key", mcp.Required(), mcp.Description("Exact memory key (from search results)")),
			),
			Handler: b.handleMemoryGet,
		},
		{
			Tool: mcp.NewTool("tinymem_search",
				mcp.WithDescription("Search chain links and artifacts by content. Returns {type, id, title, score, preview}; pass an id to tinymem_get for the full entry."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
				mcp.WithNumber("limit", mcp.Description("Maximum results to return"), mcp.DefaultNumber(DefaultSearchLimit)),
			),
			Handler: b.handleSearch,
		},
		{
			Tool: mcp.NewTool("tinymem_get",
				mcp.WithDescription("Fetch a chain link or artifact by search id (chain:<name>:<slug> or artifact:<id>). Long text is returned in windows; follow next_offset while has_more is true."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Id from tinymem_search results")),
				mcp.WithNumber("max_chars", mcp.Description("Maximum characters of text to return"), mcp.DefaultNumber(DefaultGetMaxChars)),
				mcp.WithNumber("offset", mcp.Description("Character offset to start the text window at"), mcp.DefaultNumber(0)),
			),
			Handler: b.handleGet,
		},
		{
			Tool: mcp.NewTool("tinymem_artifact_save",
				mcp.WithDescription("Register a file as an artifact so later sessions can find it by title, description or text."),
				sessionID,
				mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to an existing file")),
				mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
				mcp.WithString("description", mcp.Description("What the file is and why it matters")),
			),
			Handler: b.handleArtifactSave,
		},
		{
			Tool: mcp.NewTool("tinymem_chain_link",
				mcp.WithDescription(strings.TrimSpace(prompts.ChainLinkToolDescription)),
				sessionID,
				mcp.WithString("chain_name", mcp.Required(), mcp.Description("Chain identifier (e.g. 'my-feature', 'bug-fix-123')")),
				mcp.WithString("slug", mcp.Required(), mcp.Description("Short description of this checkpoint (e.g. 'implement-auth')")),
				mcp.WithString("content", mcp.Required(), mcp.Description("Chain link content: context, decisions, code changes, next steps")),
			),
			Handler: b.handleChainLink,
		},
		{
			Tool: mcp.NewTool("tinymem_chain_load",
				mcp.WithDescription("Load the newest links of a chain to continue work from a previous session. The first link usually holds the immediate next steps."),
				mcp.WithString("chain_name", mcp.Required(), mcp.Description("Chain identifier to load")),
				mcp.WithNumber("limit", mcp.Description("Max links to return"), mcp.DefaultNumber(DefaultChainLoadLimit)),
			),
			Handler: b.handleChainLoad,
		},
		{
			Tool: mcp.NewTool("tinymem_chain_list",
				mcp.WithDescription("List all chains with their link counts."),
			),
			Handler: b.handleChainList,
		},
		{
			Tool: mcp.NewTool("tinymem_chain_search",
				mcp.WithDescription("Fuzzy search for chains by name, sorted by relevance."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Search query (fuzzy matched against chain names)")),
				mcp.WithNumber("limit", mcp.Description("Max results to return"), mcp.DefaultNumber(DefaultChainSearchLimit)),
			),
			Handler: b.handleChainSearch,
		},
	}
}

func (b *Bridge) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var resp AnswerResponse
	err = b.call(ctx, http.MethodPost, "/session/"+url.PathEscape(sid)+"/ask", AskRequest{Question: question}, &resp)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusRequestTimeout {
		return mcp.NewToolResultError("no answer before the timeout; ask again if you still need one"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(resp.Answer), nil
}

func (b *Bridge) handleMsg(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := MessageRequest{Role: "agent", Content: content}
	if err := b.call(ctx, http.MethodPost, "/session/"+url.PathEscape(sid)+"/msg", body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("message logged"), nil
}

func (b *Bridge) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := MemorySaveRequest{Key: key, Content: content, Kind: req.GetString("kind", "")}
	var resp SavedResponse
	if err := b.call(ctx, http.MethodPost, "/memory/"+url.PathEscape(sid), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("memory saved: " + resp.Saved), nil
}

func (b *Bridge) handleMemorySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := SearchRequest{Query: query, Limit: req.GetInt("limit", DefaultSearchLimit)}
	var resp KeysResponse
	if err := b.call(ctx, http.MethodPost, "/memory/search", body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Keys)
}

func (b *Bridge) handleMemoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var resp MemoryResponse
	if err := b.call(ctx, http.MethodGet, "/memory/get/"+url.PathEscape(key), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Memory)
}

func (b *Bridge) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := SearchRequest{Query: query, Limit: req.GetInt("limit", DefaultSearchLimit)}
	var resp ResultsResponse
	if err := b.call(ctx, http.MethodPost, "/search", body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Results)
}

func (b *Bridge) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var body map[string]any
	if err := b.call(ctx, http.MethodGet, "/get/"+url.PathEscape(id), nil, &body); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	windowText(body, req.GetInt("offset", 0), req.GetInt("max_chars", DefaultGetMaxChars))
	return prettyResult(body)
}

// windowText replaces body's "text" with the window [offset, offset+size)
// measured in characters and records where the window sits.
func windowText(body map[string]any, offset, size int) {
	text, ok := body["text"].(string)
	if !ok {
		return
	}
	if offset < 0 {
		offset = 0
	}
	if size <= 0 {
		size = DefaultGetMaxChars
	}

	total := utf8.RuneCountInString(text)
	start := min(offset, total)
	end := min(start+size, total)
	runes := []rune(text)
	body["text"] = string(runes[start:end])
	body["text_range"] = map[string]int{"offset": start, "end": end, "total": total}
	if end < total {
		body["has_more"] = true
		body["next_offset"] = end
	}
}

func (b *Bridge) handleArtifactSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := ArtifactSaveRequest{FilePath: path, Title: title, Description: req.GetString("description", "")}
	var resp ArtifactSavedResponse
	if err := b.call(ctx, http.MethodPost, "/artifact/save/"+url.PathEscape(sid), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("artifact saved: " + resp.ID), nil
}

func (b *Bridge) handleChainLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("chain_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := ChainSaveRequest{ChainName: name, Slug: slug, Content: content}
	var resp ChainSavedResponse
	if err := b.call(ctx, http.MethodPost, "/chain/"+url.PathEscape(sid), body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("chain link saved: " + resp.Saved), nil
}

func (b *Bridge) handleChainLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("chain_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", DefaultChainLoadLimit)
	path := "/chain/get/" + url.PathEscape(name)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp ChainResponse
	if err := b.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Links)
}

func (b *Bridge) handleChainList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp ChainsResponse
	if err := b.call(ctx, http.MethodGet, "/chains", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Chains)
}

func (b *Bridge) handleChainSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := SearchRequest{Query: query, Limit: req.GetInt("limit", DefaultChainSearchLimit)}
	var resp ChainMatchesResponse
	if err := b.call(ctx, http.MethodPost, "/chain/search", body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return prettyResult(resp.Chains)
}

func prettyResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// apiError is a non-2xx response from the tinymem server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("tinymem: %d %s", e.Status, e.Message)
}

// call sends body as JSON to path and decodes the response into out. Either
// may be nil.
func (b *Bridge) call(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
