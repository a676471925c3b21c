// Package tavily implements the concrete, swappable web-search tool spec
// §4.5's tool universe example (`tavily_search`) names. Tavily has no Go SDK
// in the retrieved pack, so this is a plain net/http JSON-RPC-ish caller
// shaped on the teacher's features/mcp/runtime.HTTPCaller
// (httpcaller.go): a small client struct wrapping an *http.Client with a
// default timeout, one request-building method, and typed request/response
// structs — the same plumbing, pointed at Tavily's REST API instead of an
// MCP JSON-RPC endpoint.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaymesh/supervisor/toolreg"
)

const defaultEndpoint = "https://api.tavily.com/search"

// Options configures the Tavily client.
type Options struct {
	APIKey   string
	Endpoint string // defaults to defaultEndpoint
	Client   *http.Client
}

// Client calls the Tavily search API.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New constructs a Client. Panics if opts.APIKey is empty — a misconfigured
// deployment should fail at wiring time, not on the first search call.
func New(opts Options) *Client {
	if opts.APIKey == "" {
		panic("tavily: APIKey must not be empty")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{apiKey: opts.APIKey, endpoint: endpoint, http: httpClient}
}

// Request is the schema-described input the Reasoner and callers build;
// invopop/jsonschema generates toolreg's Descriptor.Schema from this struct
// (spec §4.5/§6.4's DOMAIN STACK entry for "Tool schema / capability
// description").
type Request struct {
	Query      string `json:"query" jsonschema:"required,description=the search query"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=maximum number of results to return,default=5"`
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Score   float64 `json:"score"`
}

// Response is what Search returns.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Search issues one Tavily search call.
func (c *Client) Search(ctx context.Context, req Request) (Response, error) {
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(map[string]any{
		"api_key":     c.apiKey,
		"query":       req.Query,
		"max_results": maxResults,
	})
	if err != nil {
		return Response{}, fmt.Errorf("tavily: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("tavily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, string(raw))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("tavily: decode response: %w", err)
	}
	out.Query = req.Query
	return out, nil
}

// Invoker adapts Search to toolreg.Invoker so Register can wire it directly
// into the Tool Registry under the name "tavily_search" (spec §4.1's
// time-sensitive routing example references this exact name).
func (c *Client) Invoker() toolreg.Invoker {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var req Request
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("tavily: invalid input: %w", err)
		}
		resp, err := c.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

// Descriptor builds the toolreg.Descriptor for this client, with aliases and
// capability tags matching the "web_search" capability routing (spec
// §4.1/§4.3) relies on. schema is typically compiled once at startup via
// invopop/jsonschema from Request and validated with santhosh-tekuri/jsonschema/v6
// before being attached here; callers that don't need schema enforcement may
// pass a nil Schema.
func Descriptor(c *Client, schema toolreg.Descriptor) toolreg.Descriptor {
	d := schema
	d.Name = "tavily_search"
	if len(d.Aliases) == 0 {
		d.Aliases = []string{"web_search", "search"}
	}
	if len(d.Capabilities) == 0 {
		d.Capabilities = []string{"web_search"}
	}
	if d.LatencyHint == "" {
		d.LatencyHint = toolreg.LatencyMedium
	}
	d.Invoker = c.Invoker()
	return d
}
