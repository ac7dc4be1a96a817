// Package googleauth implements the OAuth installed-app flow for the
// Google Calendar, Sheets, Docs and Drive scopes the pipeline uses.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const tokenEndpoint = "https://oauth2.googleapis.com/token"

// Scopes the pipeline requests. Calendar stays read-only.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.file",
}

// Credentials is the OAuth client identity, read from the downloaded
// client-secret JSON.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// LoadCredentials reads a Google client-secret file, accepting both the
// "installed" envelope and a bare object.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading client credentials: %w", err)
	}
	var envelope struct {
		Installed *Credentials `json:"installed"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Installed != nil {
		return *envelope.Installed, nil
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parsing client credentials: %w", err)
	}
	return creds, nil
}

// token is the cached OAuth state.
type token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

func (t token) valid() bool {
	return t.AccessToken != "" && time.Until(t.Expiry) > time.Minute
}

// Granter runs the interactive part of the flow: it receives the consent
// URL to show the user and returns the authorization code. The run command
// wires a terminal prompt here; tests wire a stub.
type Granter func(authURL string) (code string, err error)

// Authenticator produces bearer tokens, refreshing and re-granting as
// needed, and caches them as JSON on disk.
type Authenticator struct {
	mu         sync.Mutex
	creds      Credentials
	scopes     []string
	cachePath  string
	grant      Granter
	httpClient *http.Client
	logger     *slog.Logger
	tokenURL   string
	current    token
}

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithScopes overrides the requested scopes.
func WithScopes(scopes []string) Option {
	return func(a *Authenticator) { a.scopes = scopes }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Authenticator) { a.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithTokenEndpoint overrides the token URL, for tests.
func WithTokenEndpoint(url string) Option {
	return func(a *Authenticator) { a.tokenURL = url }
}

// NewAuthenticator creates an Authenticator caching tokens at cachePath.
func NewAuthenticator(creds Credentials, cachePath string, grant Granter, opts ...Option) *Authenticator {
	a := &Authenticator{
		creds:      creds,
		scopes:     DefaultScopes,
		cachePath:  cachePath,
		grant:      grant,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		tokenURL:   tokenEndpoint,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.loadCache()
	return a
}

// Token returns a valid access token, refreshing or running the grant flow
// when necessary.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current.valid() {
		return a.current.AccessToken, nil
	}

	if a.current.RefreshToken != "" {
		if err := a.refreshLocked(ctx); err == nil {
			return a.current.AccessToken, nil
		} else if !isInvalidGrant(err) {
			return "", err
		}
		// The refresh token is dead; fall through to a fresh grant.
		a.logger.Warn("refresh token rejected, re-authorizing")
		a.current = token{}
	}

	if err := a.authorizeLocked(ctx); err != nil {
		return "", err
	}
	return a.current.AccessToken, nil
}

// Invalidate discards cached tokens, forcing a fresh grant next time.
// Callers do this after a 403 that indicates missing scopes.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = token{}
	if a.cachePath != "" {
		os.Remove(a.cachePath)
	}
}

func (a *Authenticator) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientSecret},
		"refresh_token": {a.current.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	return a.tokenRequestLocked(ctx, form, a.current.RefreshToken)
}

func (a *Authenticator) authorizeLocked(ctx context.Context) error {
	if a.grant == nil {
		return fmt.Errorf("no cached token and no interactive grant available")
	}

	authURL := "https://accounts.google.com/o/oauth2/v2/auth?" + url.Values{
		"client_id":     {a.creds.ClientID},
		"redirect_uri":  {"urn:ietf:wg:oauth:2.0:oob"},
		"response_type": {"code"},
		"scope":         {strings.Join(a.scopes, " ")},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}.Encode()

	code, err := a.grant(authURL)
	if err != nil {
		return fmt.Errorf("authorization grant: %w", err)
	}

	form := url.Values{
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientSecret},
		"code":          {code},
		"redirect_uri":  {"urn:ietf:wg:oauth:2.0:oob"},
		"grant_type":    {"authorization_code"},
	}
	return a.tokenRequestLocked(ctx, form, "")
}

func (a *Authenticator) tokenRequestLocked(ctx context.Context, form url.Values, keepRefresh string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &tokenError{status: resp.StatusCode, body: string(data)}
	}

	var decoded struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("parsing token response: %w", err)
	}

	a.current = token{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}
	if a.current.RefreshToken == "" {
		a.current.RefreshToken = keepRefresh
	}
	a.saveCache()
	return nil
}

type tokenError struct {
	status int
	body   string
}

func (e *tokenError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

func isInvalidGrant(err error) bool {
	var te *tokenError
	return errors.As(err, &te) && strings.Contains(te.body, "invalid_grant")
}

func (a *Authenticator) loadCache() {
	if a.cachePath == "" {
		return
	}
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		return
	}
	var cached token
	if err := json.Unmarshal(data, &cached); err != nil {
		a.logger.Warn("ignoring corrupt token cache", "path", a.cachePath)
		return
	}
	a.current = cached
}

func (a *Authenticator) saveCache() {
	if a.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(a.current, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(a.cachePath, data, 0o600); err != nil {
		a.logger.Warn("cannot write token cache", "path", a.cachePath, "error", err)
	}
}
