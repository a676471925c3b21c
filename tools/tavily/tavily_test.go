package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/supervisor/toolreg"
)

func TestClient_Search_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "latest go release", body["query"])

		_ = json.NewEncoder(w).Encode(Response{Results: []Result{{Title: "Go 1.25", URL: "https://go.dev", Score: 0.9}}})
	}))
	defer srv.Close()

	client := New(Options{APIKey: "test-key", Endpoint: srv.URL})
	resp, err := client.Search(context.Background(), Request{Query: "latest go release"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Go 1.25", resp.Results[0].Title)
	assert.Equal(t, "latest go release", resp.Query)
}

func TestClient_Search_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	client := New(Options{APIKey: "test-key", Endpoint: srv.URL})
	_, err := client.Search(context.Background(), Request{Query: "x"})
	require.Error(t, err)
}

func TestNew_PanicsOnEmptyAPIKey(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}

func TestDescriptor_WiresIntoRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Results: []Result{{Title: "hit"}}})
	}))
	defer srv.Close()

	client := New(Options{APIKey: "test-key", Endpoint: srv.URL})
	schema, err := toolreg.CompileSchema(Request{}, "tavily_request_test")
	require.NoError(t, err)

	reg := toolreg.New()
	require.NoError(t, reg.Register(Descriptor(client, toolreg.Descriptor{Schema: schema})))

	assert.True(t, reg.HasCapability("web_search"))

	input, _ := json.Marshal(Request{Query: "hello"})
	out, err := reg.Invoke(context.Background(), "tavily_search", input)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "hit", resp.Results[0].Title)
}
