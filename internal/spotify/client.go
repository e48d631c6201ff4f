package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/redis"
)

const (
	defaultAPIBase      = "https://api.spotify.com/v1"
	defaultAccountsBase = "https://accounts.spotify.com"
)

// ErrNotConnected means the host has not authorized the app yet.
var ErrNotConnected = errors.New("spotify: host account not connected")

// TokenStore persists the host's tokens. *redis.TokenStore implements it.
type TokenStore interface {
	GetTokens(ctx context.Context, owner string) (*redis.TokenInfo, error)
	StoreTokens(ctx context.Context, owner string, token *redis.TokenInfo) error
	RefreshToken(ctx context.Context, owner, accessToken, refreshToken string, expiresAt time.Time) error
}

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
	tokens       TokenStore

	apiBase      string
	accountsBase string
	now          func() time.Time
}

var _ catalog.Catalog = (*Client)(nil)

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type Track struct {
	ID       string   `json:"id"`
	URI      string   `json:"uri"`
	Name     string   `json:"name"`
	Artists  []Artist `json:"artists"`
	Duration int      `json:"duration_ms"`
	Explicit bool     `json:"explicit"`
	Album    Album    `json:"album"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type SearchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type QueueResponse struct {
	CurrentlyPlaying *Track  `json:"currently_playing"`
	Queue            []Track `json:"queue"`
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"`
}

func (t Track) toCatalog() catalog.Track {
	out := catalog.Track{
		ID:         t.ID,
		URI:        t.URI,
		Name:       t.Name,
		Album:      t.Album.Name,
		DurationMs: t.Duration,
		Explicit:   t.Explicit,
	}
	if out.URI == "" {
		out.URI = "spotify:track:" + t.ID
	}
	for _, a := range t.Artists {
		out.Artists = append(out.Artists, a.Name)
	}
	if len(t.Album.Images) > 0 {
		out.AlbumArt = t.Album.Images[0].URL
	}
	return out
}

func NewClient(clientID, clientSecret, redirectURI string, tokens TokenStore, timeout time.Duration) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: timeout},
		tokens:       tokens,
		apiBase:      defaultAPIBase,
		accountsBase: defaultAccountsBase,
		now:          time.Now,
	}
}

func (c *Client) GetAuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", c.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", c.redirectURI)
	params.Add("scope", "user-read-private user-read-playback-state user-modify-playback-state user-read-currently-playing")
	params.Add("state", state)

	return c.accountsBase + "/authorize?" + params.Encode()
}

// Connect exchanges an authorization code and stores the result as the host's tokens.
func (c *Client) Connect(ctx context.Context, code string) error {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	token, err := c.doTokenRequest(ctx, data)
	if err != nil {
		return err
	}
	return c.tokens.StoreTokens(ctx, redis.HostKey, &redis.TokenInfo{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC(),
	})
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsBase+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: token request failed with status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}
	return &token, nil
}

// accessToken returns a usable host token, refreshing it when it is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	info, err := c.tokens.GetTokens(ctx, redis.HostKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}
	if !info.Expired(c.now()) {
		return info.AccessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", info.RefreshToken)
	token, err := c.doTokenRequest(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to refresh host token: %w", err)
	}
	expiresAt := c.now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC()
	if err := c.tokens.RefreshToken(ctx, redis.HostKey, token.AccessToken, token.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}
	return token.AccessToken, nil
}

// Connected reports whether host tokens are stored.
func (c *Client) Connected(ctx context.Context) bool {
	_, err := c.tokens.GetTokens(ctx, redis.HostKey)
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	u := c.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("spotify: authentication rejected for %s", path)
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("spotify: %s %s failed with status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]catalog.Track, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("type", "track")
	params.Add("limit", fmt.Sprintf("%d", limit))

	var searchResp SearchResponse
	if err := c.do(ctx, http.MethodGet, "/search", params, &searchResp); err != nil {
		return nil, err
	}

	tracks := make([]catalog.Track, 0, len(searchResp.Tracks.Items))
	for _, t := range searchResp.Tracks.Items {
		tracks = append(tracks, t.toCatalog())
	}
	return tracks, nil
}

func (c *Client) GetTrack(ctx context.Context, id string) (*catalog.Track, error) {
	var t Track
	if err := c.do(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	out := t.toCatalog()
	return &out, nil
}

func (c *Client) Enqueue(ctx context.Context, trackURI string) error {
	params := url.Values{}
	params.Add("uri", trackURI)
	return c.do(ctx, http.MethodPost, "/me/player/queue", params, nil)
}

func (c *Client) ReadLiveQueue(ctx context.Context) (*catalog.LiveQueue, error) {
	var q QueueResponse
	if err := c.do(ctx, http.MethodGet, "/me/player/queue", nil, &q); err != nil {
		return nil, err
	}

	out := &catalog.LiveQueue{Queue: make([]catalog.Track, 0, len(q.Queue))}
	if q.CurrentlyPlaying != nil && q.CurrentlyPlaying.ID != "" {
		now := q.CurrentlyPlaying.toCatalog()
		out.CurrentlyPlaying = &now
	}
	for _, t := range q.Queue {
		out.Queue = append(out.Queue, t.toCatalog())
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
