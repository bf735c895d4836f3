package firecrawlmcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ScrapeName is the name of the scraping tool.
const ScrapeName = "scrape_webpage"

// Scraper fetches a web page as markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string, onlyMainContent bool) (string, error)
}

// Tools returns the web tools bound to client.
func Tools(client Scraper) []server.ServerTool {
	return []server.ServerTool{
		{Tool: ScrapeTool(), Handler: ScrapeHandler(client)},
	}
}

func ScrapeTool() mcp.Tool {
	return mcp.NewTool(ScrapeName,
		mcp.WithDescription("Scrape content from a specific webpage and return it in markdown format. "+
			"Use this when you need to get the content of a URL."),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL of the webpage to scrape.")),
		mcp.WithBoolean("only_main_content", mcp.DefaultBool(true), mcp.Description("Whether to extract only the main content.")),
	)
}

func ScrapeHandler(client Scraper) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		content, err := client.Scrape(ctx, url, request.GetBool("only_main_content", true))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error scraping %s: %v", url, err)), nil
		}
		return mcp.NewToolResultText(content), nil
	}
}
