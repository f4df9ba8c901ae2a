package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// NewService initializes an OAuth-backed Gmail service using:
// - Client credentials at <configDir>/client_secret.json
// - Token cache at <configDir>/token.json
// Scopes: gmail.readonly plus gmail.modify (for the mark feature).
// Auth errors here are fatal: no ingestion has happened yet.
func NewService(ctx context.Context, configDir string) (*gmailv1.Service, error) {
	return NewServiceInteractive(ctx, configDir, nil, nil)
}

// NewServiceInteractive initializes a Gmail service. When uiEvents and
// userResponses are non-nil, the auth URL and the manual-paste fallback are
// driven over those channels instead of stderr/stdin, so a TUI can host the
// flow.
func NewServiceInteractive(ctx context.Context, configDir string, uiEvents chan<- interface{}, userResponses <-chan string) (*gmailv1.Service, error) {
	credPath := filepath.Join(configDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}

	cfg, err := google.ConfigFromJSON(b,
		gmailv1.GmailReadonlyScope,
		gmailv1.GmailModifyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tokFile := filepath.Join(configDir, "token.json")
	if tok, err := readToken(tokFile); err == nil {
		// Validate the cached token by making a lightweight API call. The
		// oauth2 client refreshes an expired access token transparently.
		client := cfg.Client(ctx, tok)
		svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
		if err == nil {
			_, err = svc.Users.GetProfile("me").Context(ctx).Do()
		}
		if err == nil {
			return svc, nil
		}
		// Token is invalid — remove it and fall through to re-auth.
		os.Remove(tokFile)
	}

	tok, err := getTokenFromWeb(ctx, cfg, uiEvents, userResponses)
	if err != nil {
		return nil, err
	}
	if err := saveToken(tokFile, tok); err != nil {
		return nil, err
	}

	client := cfg.Client(ctx, tok)
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

// loopback starts an HTTP server on a random localhost port to capture the
// OAuth redirect. The returned channel yields the auth code once.
func loopback(cfg *oauth2.Config) (codeCh <-chan string, shutdown func(), err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("listen on loopback: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", port)

	ch := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case ch <- code:
		default:
		}
	})
	go func() { _ = srv.Serve(ln) }()

	return ch, func() { _ = srv.Shutdown(context.Background()) }, nil
}

// codeFromInput accepts either a bare auth code or the full redirect URL the
// user pasted, and extracts the code.
func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parse redirect URL: %w", err)
		}
		c := u.Query().Get("code")
		if c == "" {
			return "", errors.New("no 'code' parameter found in pasted URL")
		}
		return c, nil
	}
	return input, nil
}

// getTokenFromWeb runs the loopback flow and, when it is unavailable or the
// user is faster, accepts a manually pasted code or redirect URL.
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config, uiEvents chan<- interface{}, userResponses <-chan string) (*oauth2.Token, error) {
	codeCh, shutdown, err := loopback(cfg)
	if err != nil {
		return nil, err
	}
	defer shutdown()

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	if uiEvents != nil && userResponses != nil {
		uiEvents <- authURL
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case code := <-codeCh:
			return exchange(ctx, cfg, code)
		case input := <-userResponses:
			code, err := codeFromInput(input)
			if err != nil {
				return nil, err
			}
			return exchange(ctx, cfg, code)
		}
	}

	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize gmaildu:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintf(os.Stderr, "Waiting for redirect on %s …\n", cfg.RedirectURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case code := <-codeCh:
		return exchange(ctx, cfg, code)
	case <-time.After(120 * time.Second):
		fmt.Fprintln(os.Stderr, "Timeout waiting for redirect; falling back to manual paste.")
	}

	fmt.Fprintln(os.Stderr, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	code, err := codeFromInput(sc.Text())
	if err != nil {
		return nil, err
	}
	return exchange(ctx, cfg, code)
}

func exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return tok, nil
}
