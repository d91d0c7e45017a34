package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
)

const callbackAddr = "localhost:8085"

// OAuth2Config locates the OAuth client credentials and the cached user token.
type OAuth2Config struct {
	CredentialsFile string // client secret JSON downloaded from the Google console
	TokenFile       string // where to cache the token
}

func (c OAuth2Config) oauthConfig() (*oauth2.Config, error) {
	if c.CredentialsFile == "" {
		return nil, fmt.Errorf("%w: gmail.credentials_file", common.ErrMissingConfig)
	}
	data, err := os.ReadFile(c.CredentialsFile) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("unable to read client credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client credentials: %w", err)
	}
	cfg.RedirectURL = "http://" + callbackAddr + "/callback"
	return cfg, nil
}

// TokenSource returns a refreshing token source, running the interactive flow when
// no cached token exists.
func TokenSource(ctx context.Context, config OAuth2Config) (oauth2.TokenSource, error) {
	oauthConfig, err := config.oauthConfig()
	if err != nil {
		return nil, err
	}

	token, err := LoadToken(config.TokenFile)
	if err != nil {
		slog.Info("No cached Gmail token, starting OAuth2 flow", "file", config.TokenFile)
		token, err = authenticateInteractive(ctx, oauthConfig)
		if err != nil {
			return nil, err
		}
		if config.TokenFile != "" {
			if err := saveToken(config.TokenFile, token); err != nil {
				slog.Warn("Failed to save token to file", "error", err, "file", config.TokenFile)
			}
		}
	}

	return &savingTokenSource{
		base: oauthConfig.TokenSource(ctx, token),
		path: config.TokenFile,
		last: token.AccessToken,
	}, nil
}

// savingTokenSource writes refreshed tokens back to the cache file.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if token.AccessToken != s.last && s.path != "" {
		s.last = token.AccessToken
		if err := saveToken(s.path, token); err != nil {
			slog.Warn("Failed to save refreshed token", "error", err)
		}
	}
	return token, nil
}

func authenticateInteractive(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errorChan <- errors.New("no authorization code received")
			_, _ = fmt.Fprint(w, "Authentication failed. Please try again.")
			return
		}
		codeChan <- code
		_, _ = fmt.Fprint(w, "Authentication successful. You can close this window.")
	})

	listener, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChan <- fmt.Errorf("callback server failed: %w", err)
		}
	}()
	defer func() { _ = server.Shutdown(context.WithoutCancel(ctx)) }()

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	slog.Info("Gmail authentication required")
	slog.Info("Please visit this URL to authenticate", "url", authURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authentication timeout: no response received within 5 minutes")
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// LoadToken loads a token from file.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	if tokenFile == "" {
		return nil, fmt.Errorf("%w: gmail.token_file", common.ErrMissingConfig)
	}
	f, err := os.Open(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}
