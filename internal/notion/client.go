// Package notion is the client for the external workspace service: the OAuth
// code exchange that connects a user, page creation for saved entries, and
// destination discovery.
package notion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"
)

// ErrNotConfigured is returned when the confidential client credentials are
// missing. It is a deployment problem, reported distinctly from an upstream
// rejection.
var ErrNotConfigured = errors.New("notion: oauth client credentials not configured")

// Client talks to the external service. The zero timeout protections come
// from the embedded http.Client; no call is retried.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	clientID     string
	clientSecret string
}

// NewClient creates a client with the confidential credentials. Empty
// credentials are allowed; exchange calls will fail with ErrNotConfigured.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		BaseURL:      defaultBaseURL,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Configured reports whether the confidential client credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// AuthorizeURL builds the provider authorization URL the browser is sent to
// when a user initiates the connection flow.
func (c *Client) AuthorizeURL(redirectURI, state string) string {
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("response_type", "code")
	query.Set("owner", "user")
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	return c.BaseURL + "/v1/oauth/authorize?" + query.Encode()
}

type tokenResponse struct {
	AccessToken   string  `json:"access_token"`
	WorkspaceName *string `json:"workspace_name"`
	WorkspaceIcon *string `json:"workspace_icon"`
	BotID         *string `json:"bot_id"`
}

// ExchangeCode trades an authorization code for an access token using Basic
// auth over the confidential credentials. One blocking round trip. The
// upstream response body rides on the returned error for diagnostics and must
// not be surfaced to the end user.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	if !c.Configured() {
		return TokenResult{}, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": redirectURI,
	})
	if err != nil {
		return TokenResult{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth/token", bytes.NewReader(body))
	if err != nil {
		return TokenResult{}, fmt.Errorf("build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return TokenResult{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TokenResult{}, fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, detail)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return TokenResult{}, fmt.Errorf("decode token response: %w", err)
	}

	// The provider sends null for workspace metadata it does not have.
	// Normalize to absent here so nothing downstream stores a null.
	return TokenResult{
		AccessToken:   decoded.AccessToken,
		WorkspaceName: stringValue(decoded.WorkspaceName),
		WorkspaceIcon: stringValue(decoded.WorkspaceIcon),
		BotID:         stringValue(decoded.BotID),
	}, nil
}

// CreatePage creates a page under the selected destination database carrying
// the entry title and block body, and returns the created page URL.
func (c *Client) CreatePage(ctx context.Context, accessToken, databaseID, title string, blocks []Block) (string, error) {
	payload := map[string]any{
		"parent": map[string]any{"database_id": databaseID},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{
					{"text": map[string]any{"content": title}},
				},
			},
		},
		"children": blocks,
	}

	var created struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, accessToken, "/v1/pages", payload, &created); err != nil {
		return "", err
	}
	return created.URL, nil
}

type searchResponse struct {
	Results []struct {
		ID    string `json:"id"`
		Title []struct {
			PlainText string `json:"plain_text"`
		} `json:"title"`
		Icon *struct {
			Type     string `json:"type"`
			Emoji    string `json:"emoji"`
			External struct {
				URL string `json:"url"`
			} `json:"external"`
		} `json:"icon"`
	} `json:"results"`
}

// SearchDatabases lists the databases the integration can reach, most
// recently edited first. Used to populate destination selection.
func (c *Client) SearchDatabases(ctx context.Context, accessToken string) ([]Database, error) {
	payload := map[string]any{
		"filter": map[string]any{
			"value":    "database",
			"property": "object",
		},
		"sort": map[string]any{
			"direction": "descending",
			"timestamp": "last_edited_time",
		},
	}

	var decoded searchResponse
	if err := c.do(ctx, accessToken, "/v1/search", payload, &decoded); err != nil {
		return nil, err
	}

	databases := make([]Database, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		db := Database{ID: result.ID, Title: "Untitled"}
		if len(result.Title) > 0 && result.Title[0].PlainText != "" {
			db.Title = result.Title[0].PlainText
		}
		if result.Icon != nil {
			switch result.Icon.Type {
			case "emoji":
				db.Icon = result.Icon.Emoji
			case "external":
				db.Icon = result.Icon.External.URL
			}
		}
		databases = append(databases, db)
	}
	return databases, nil
}

// do posts a Bearer-authenticated JSON payload and decodes the response.
func (c *Client) do(ctx context.Context, accessToken, path string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, detail)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
