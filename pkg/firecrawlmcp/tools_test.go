package firecrawlmcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bttk/calendar-assistant/pkg/firecrawl"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/mcptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"markdown": "# Docs"}}`)
	})
	api := httptest.NewServer(mux)
	defer api.Close()

	client, err := firecrawl.NewClient(api.URL, "fc-key")
	require.NoError(t, err)

	srv, err := mcptest.NewServer(t, Tools(client)...)
	require.NoError(t, err)
	defer srv.Close()

	tests := []struct {
		name    string
		args    map[string]interface{}
		isError bool
		want    string
	}{
		{name: "markdown", args: map[string]interface{}{"url": "https://example.com/docs"}, want: "# Docs"},
		{name: "full page", args: map[string]interface{}{"url": "https://example.com/docs", "only_main_content": false}, want: "# Docs"},
		{name: "bad url", args: map[string]interface{}{"url": "example.com"}, isError: true, want: "Error scraping example.com"},
		{name: "missing url", args: map[string]interface{}{}, isError: true, want: "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := srv.Client().CallTool(context.Background(), mcp.CallToolRequest{
				Params: mcp.CallToolParams{Name: ScrapeName, Arguments: tt.args},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			text, ok := res.Content[0].(mcp.TextContent)
			require.True(t, ok)
			assert.Contains(t, text.Text, tt.want)
		})
	}
}
