package gmailmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bttk/calendar-assistant/pkg/gmail"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	FetchEmailsName      = "fetch_emails"
	UnreadEmailsName     = "get_unread_emails"
	EmailsFromSenderName = "get_emails_from_sender"
	SearchEmailsName     = "search_emails"
	MarkReadName         = "mark_email_read"
	SendEmailName        = "send_email"
)

const defaultMaxResults = gmail.DefaultMaxResults

// Tools returns every Gmail tool bound to client.
func Tools(client gmail.API) []server.ServerTool {
	return []server.ServerTool{
		{Tool: FetchEmailsTool(), Handler: FetchEmailsHandler(client)},
		{Tool: UnreadEmailsTool(), Handler: UnreadEmailsHandler(client)},
		{Tool: EmailsFromSenderTool(), Handler: EmailsFromSenderHandler(client)},
		{Tool: SearchEmailsTool(), Handler: SearchEmailsHandler(client)},
		{Tool: MarkReadTool(), Handler: MarkReadHandler(client)},
		{Tool: SendEmailTool(), Handler: SendEmailHandler(client)},
	}
}

func emailsResult(emails []gmail.Email, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch emails: %v", err)), nil
	}
	if len(emails) == 0 {
		return mcp.NewToolResultText("No emails found."), nil
	}
	b, err := json.Marshal(emails)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal emails to JSON: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func maxResultsOption() mcp.ToolOption {
	return mcp.WithNumber("max_results", mcp.DefaultNumber(defaultMaxResults), mcp.Description("The maximum number of emails to return."))
}

func maxResults(request mcp.CallToolRequest) int64 {
	return int64(request.GetInt("max_results", defaultMaxResults))
}

func FetchEmailsTool() mcp.Tool {
	return mcp.NewTool(FetchEmailsName,
		mcp.WithDescription("Fetch emails matching a Gmail search query, with sender, subject, date and body."),
		mcp.WithString("query", mcp.DefaultString(gmail.DefaultQuery), mcp.Description("Gmail search query (default: 'in:inbox').")),
		mcp.WithString("after", mcp.Description("Only emails after this date (YYYY-MM-DD).")),
		maxResultsOption(),
	)
}

func FetchEmailsHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var after time.Time
		if s := request.GetString("after", ""); s != "" {
			t, err := time.Parse(time.DateOnly, s)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid after date %q, expected YYYY-MM-DD", s)), nil
			}
			after = t
		}
		return emailsResult(client.FetchMail(ctx, request.GetString("query", gmail.DefaultQuery), after, maxResults(request)))
	}
}

func UnreadEmailsTool() mcp.Tool {
	return mcp.NewTool(UnreadEmailsName,
		mcp.WithDescription("Fetches a list of the user's most recent unread emails from their Gmail inbox."),
		maxResultsOption(),
	)
}

func UnreadEmailsHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return emailsResult(gmail.Unread(ctx, client, maxResults(request)))
	}
}

func EmailsFromSenderTool() mcp.Tool {
	return mcp.NewTool(EmailsFromSenderName,
		mcp.WithDescription("Fetches a list of recent emails from a specific sender's email address."),
		mcp.WithString("sender_email", mcp.Required(), mcp.Description("The email address of the sender to search for (e.g., 'no-reply@google.com').")),
		maxResultsOption(),
	)
}

func EmailsFromSenderHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sender, err := request.RequireString("sender_email")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return emailsResult(gmail.FromSender(ctx, client, sender, maxResults(request)))
	}
}

func SearchEmailsTool() mcp.Tool {
	return mcp.NewTool(SearchEmailsName,
		mcp.WithDescription("Searches the user's emails (subject and body) for a specific keyword or search term."),
		mcp.WithString("search_term", mcp.Required(), mcp.Description("The keyword or term to search for in the email's subject or body (e.g., 'invoice', 'meeting link').")),
		maxResultsOption(),
	)
}

func SearchEmailsHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		term, err := request.RequireString("search_term")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return emailsResult(gmail.Search(ctx, client, term, maxResults(request)))
	}
}

func MarkReadTool() mcp.Tool {
	return mcp.NewTool(MarkReadName,
		mcp.WithDescription("Mark an email as read."),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("The ID of the message.")),
	)
}

func MarkReadHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("message_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := client.MarkAsRead(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to mark message as read: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message %s marked as read.", id)), nil
	}
}

func SendEmailTool() mcp.Tool {
	return mcp.NewTool(SendEmailName,
		mcp.WithDescription("Sends a new email from the user's Gmail account."),
		mcp.WithString("to", mcp.Required(), mcp.Description("The recipient's email address (e.g., 'friend@example.com').")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("The subject line of the email.")),
		mcp.WithString("body", mcp.Required(), mcp.Description("The plain text content of the email body.")),
	)
}

func SendEmailHandler(client gmail.API) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		to, err := request.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subject, err := request.RequireString("subject")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		body, err := request.RequireString("body")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sent, err := client.SendEmail(ctx, to, subject, body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to send email: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Successfully sent email to %s with subject: %s (id %s)", to, subject, sent.Id)), nil
	}
}
