// Package strava talks to the tracker API: OAuth token storage and refresh,
// activity fetches and webhook event decoding.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"traincal/internal/config"
	appLog "traincal/internal/log"
	"traincal/internal/model"
)

// ErrNoTokens is returned when the token file is missing or empty.
var ErrNoTokens = errors.New("strava tokens not found")

// refreshMargin refreshes access tokens slightly before they expire.
const refreshMargin = 60 * time.Second

// maxPerPage is the API's page size limit for activity lists.
const maxPerPage = 200

const sourceName = "strava"

// Tokens is the token file layout.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type,omitempty"`
}

func (t Tokens) oauth() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       time.Unix(t.ExpiresAt, 0),
	}
}

// tokensOf converts a token endpoint answer. The API reports expires_at
// directly; Expiry (from expires_in) is the fallback.
func tokensOf(tok *oauth2.Token) Tokens {
	t := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		t.ExpiresAt = int64(v)
	case json.Number:
		t.ExpiresAt, _ = v.Int64()
	case string:
		t.ExpiresAt, _ = strconv.ParseInt(v, 10, 64)
	}
	if t.ExpiresAt == 0 && !tok.Expiry.IsZero() {
		t.ExpiresAt = tok.Expiry.Unix()
	}
	return t
}

// Client is a minimal Strava API client.
type Client struct {
	http      *http.Client
	oauth     *oauth2.Config
	baseURL   string
	tokenPath string

	mu sync.Mutex
}

// NewClient builds a client from configuration.
func NewClient(cfg config.StravaConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://www.strava.com"
	}
	return &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"activity:read_all"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL:   base,
		tokenPath: cfg.TokenPath,
	}
}

// withHTTP routes the oauth2 package's requests through the client's
// http.Client.
func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// LoadTokens reads the token file.
func (c *Client) LoadTokens() (Tokens, error) {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Tokens{}, fmt.Errorf("%w: %s", ErrNoTokens, c.tokenPath)
		}
		return Tokens{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Tokens{}, fmt.Errorf("%w: %s is empty", ErrNoTokens, c.tokenPath)
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse %s: %w", c.tokenPath, err)
	}
	return t, nil
}

// SaveTokens writes the token file atomically with 0600 permissions.
func (c *Client) SaveTokens(t Tokens) error {
	data, err := json.MarshalIndent(&t, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(c.tokenPath, data, 0o600)
}

// token returns a valid token from the token file, refreshing and
// persisting it when it expires within refreshMargin.
func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.LoadTokens()
	if err != nil {
		return nil, err
	}
	refresher := c.oauth.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: stored.RefreshToken})
	tok, err := oauth2.ReuseTokenSourceWithExpiry(stored.oauth(), refresher, refreshMargin).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.AccessToken == stored.AccessToken {
		return tok, nil
	}

	fresh := tokensOf(tok)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}
	appLog.Info("strava access token refreshed", "expires_at", fresh.ExpiresAt)
	if err := c.SaveTokens(fresh); err != nil {
		appLog.Error("strava token save failed", err, "path", c.tokenPath)
	}
	return tok, nil
}

// AccessToken returns a valid access token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// ExchangeToken trades an OAuth authorization code for tokens and stores
// them in the token file.
func (c *Client) ExchangeToken(ctx context.Context, code string) (Tokens, error) {
	if strings.TrimSpace(code) == "" {
		return Tokens{}, errors.New("authorization code is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.oauth.Exchange(c.withHTTP(ctx), code)
	if err != nil {
		return Tokens{}, fmt.Errorf("exchange token: %w", err)
	}
	t := tokensOf(tok)
	if err := c.SaveTokens(t); err != nil {
		return t, err
	}
	appLog.Info("strava tokens stored", "path", c.tokenPath, "expires_at", t.ExpiresAt)
	return t, nil
}

// get performs an authorized API GET and returns the body of a 200 answer.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	hc := oauth2.NewClient(c.withHTTP(ctx), oauth2.StaticTokenSource(tok))
	hc.Timeout = c.http.Timeout

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return body, nil
}

// GetActivity retrieves the detailed representation of one activity.
func (c *Client) GetActivity(ctx context.Context, id int64) (Activity, error) {
	appLog.Debug("strava fetch start", "activity_id", id)
	body, err := c.get(ctx, "/api/v3/activities/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return Activity{}, fmt.Errorf("fetch activity %d: %w", id, err)
	}
	return ParseActivity(body)
}

// FetchActivity retrieves one activity and converts it to an ingestion
// record.
func (c *Client) FetchActivity(ctx context.Context, id int64) (model.ActivityRecord, error) {
	a, err := c.GetActivity(ctx, id)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	return a.Record()
}

// ListActivities returns up to count of the athlete's most recent
// activities that started after the given time, newest first. The list
// holds summary representations.
func (c *Client) ListActivities(ctx context.Context, count int, after time.Time) ([]Activity, error) {
	if count <= 0 {
		return nil, nil
	}
	q := url.Values{"per_page": {strconv.Itoa(min(count, maxPerPage))}}
	if !after.IsZero() {
		q.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	body, err := c.get(ctx, "/api/v3/athlete/activities", q)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]Activity, 0, len(raws))
	for _, raw := range raws {
		a, err := ParseActivity(raw)
		if err != nil {
			appLog.Warn("skipping undecodable activity summary", "reason", err.Error())
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ToRecord decodes an activity payload and fills in source fields.
func ToRecord(payload []byte) (model.ActivityRecord, error) {
	var rec model.ActivityRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return model.ActivityRecord{}, err
	}
	if rec.Source == "" {
		rec.Source = sourceName
	}
	if rec.SourceURL == "" && rec.ID != "" {
		rec.SourceURL = "https://www.strava.com/activities/" + rec.ID
	}
	return rec, nil
}
