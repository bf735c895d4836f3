package googleapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ErrNoAuthCode is returned when the browser flow ends without a code.
var ErrNoAuthCode = errors.New("no authorization code received")

// AuthorizeFromWeb runs the installed-app flow: it opens the consent page in
// a browser and waits for Google to redirect to a loopback listener. If no
// listener can be opened, the code is read from in instead. Prompts go to out.
func AuthorizeFromWeb(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Warn().Err(err).Msg("unable to create loopback listener, falling back to manual code entry")
		return authorizeManual(ctx, cfg, in, out)
	}
	defer l.Close()

	local := *cfg
	local.RedirectURL = "http://" + l.Addr().String()

	codeCh := make(chan string, 1)
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code != "" {
				_, _ = w.Write([]byte("Authentication successful! You can check the terminal now."))
			} else {
				_, _ = w.Write([]byte("Authentication failed. No code found."))
			}
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
	}

	go func() {
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("loopback server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := local.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Opening browser to visit: \n%v\n", authURL)
	if err := openBrowser(authURL); err != nil {
		log.Warn().Err(err).Msg("unable to open browser")
		fmt.Fprintln(out, "Please open the link manually.")
	}

	var code string
	select {
	case code = <-codeCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if code == "" {
		return nil, ErrNoAuthCode
	}
	return local.Exchange(ctx, code)
}

func authorizeManual(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code: \n%v\n", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAuthCode, err)
	}
	return cfg.Exchange(ctx, code)
}

func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}
