package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bttk/calendar-assistant/internal/googleapi"
	"github.com/bttk/calendar-assistant/pkg/agent"
	"github.com/bttk/calendar-assistant/pkg/calendarmcp"
	"github.com/bttk/calendar-assistant/pkg/config"
	"github.com/bttk/calendar-assistant/pkg/toolbox"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	errNoUser = errors.New("-user is required")
	errVerify = errors.New("API verification failed")
)

func runMigrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Migrate(ctx)
}

func runDue(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.assistant.RunDue(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Error != "" {
			fmt.Printf("%s\t%v\tERROR %s\n", r.UserID, r.TaskIDs, r.Error)
			continue
		}
		fmt.Printf("%s\t%v\t%s\n", r.UserID, r.TaskIDs, r.Text)
	}
	return nil
}

func userFlag(name string, args []string) (string, bool, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	verbose := fs.Bool("v", false, "log MCP input and output")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	if *userID == "" {
		fs.Usage()
		return "", false, errNoUser
	}
	return *userID, *verbose, nil
}

// runMCP serves the tools of one user over stdio.
func runMCP(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	userID, verbose, err := userFlag("mcp", args)
	if err != nil {
		return err
	}
	a, err := newToolbox(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	tools, err := a.toolbox.Build(ctx, userID)
	if err != nil {
		return err
	}
	s := server.NewMCPServer("Calendar Assistant", "1.0.0", server.WithLogging())
	s.AddTools(tools...)
	logger.Info().Str("user_id", userID).Int("tools", len(tools)).Msg("serving MCP over stdio")

	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout
	if verbose {
		in = &loggingReader{os.Stdin}
		out = &loggingWriter{os.Stdout}
	}
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

// runAuth connects a user's Google account and stores the token.
func runAuth(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	userID, _, err := userFlag("auth", args)
	if err != nil {
		return err
	}
	a, err := newToolbox(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.oauth == nil {
		return errNoOAuthConfig
	}

	tok, err := googleapi.AuthorizeFromWeb(ctx, a.oauth, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	if err := a.store.SetGoogleToken(ctx, userID, googleapi.UserToken(tok, googleapi.ScopeString())); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Authentication successful. Verifying API access...")
	tools, err := a.toolbox.Build(ctx, userID)
	if err != nil {
		return err
	}
	res, err := toolbox.Handlers(tools)[calendarmcp.ListCalendarsName](ctx, mcp.CallToolRequest{})
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("%w: %s", errVerify, agent.ResultText(res))
	}
	fmt.Fprintf(os.Stderr, "Google account connected for %s.\n", userID)
	return nil
}

type loggingReader struct {
	r io.Reader
}

func (lr *loggingReader) Read(p []byte) (n int, err error) {
	n, err = lr.r.Read(p)
	if n > 0 {
		log.Info().Msgf("IN: %q", p[:n])
	}
	return n, err
}

type loggingWriter struct {
	w io.Writer
}

func (lw *loggingWriter) Write(p []byte) (n int, err error) {
	if len(p) < 50 {
		log.Info().Msgf("OUT: %q", p)
	} else {
		log.Info().Msgf("OUT: %q...", p[:50])
	}
	return lw.w.Write(p)
}
