package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bizsim/internal/game"
)

// APIError is a non-2xx answer from the server. Anything else returned by the
// client is a transport failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

// IsAPIError reports whether err came back from the server rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL  string
	AdminKey string
	HTTP     *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type Submission struct {
	GameID         string         `json:"game_id"`
	CompanyID      string         `json:"company_id"`
	CompanyName    string         `json:"company_name,omitempty"`
	Quarter        int            `json:"quarter"`
	Decisions      game.Decisions `json:"decisions"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func gamePath(gameID string, parts ...string) string {
	path := "/v1/games/" + url.PathEscape(gameID)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func adminGamePath(gameID string, parts ...string) string {
	return "/v1/admin" + gamePath(gameID, parts...)
}

func (c *Client) Join(ctx context.Context, gameID, companyID, name string) (game.StatusView, error) {
	var out game.StatusView
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "join"), map[string]any{
		"company_id":   companyID,
		"company_name": name,
	}, &out, "", false)
	return out, err
}

func (c *Client) Submit(ctx context.Context, sub Submission) (game.SubmitResult, error) {
	var out game.SubmitResult
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sub.GameID, "decisions"), map[string]any{
		"company_id":   sub.CompanyID,
		"company_name": sub.CompanyName,
		"quarter":      sub.Quarter,
		"decisions":    sub.Decisions,
	}, &out, sub.IdempotencyKey, false)
	return out, err
}

func (c *Client) Status(ctx context.Context, gameID, companyID string) (game.StatusView, error) {
	path := gamePath(gameID, "status")
	if companyID != "" {
		path += "?company_id=" + url.QueryEscape(companyID)
	}
	var out game.StatusView
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "", false)
	return out, err
}

func (c *Client) Company(ctx context.Context, gameID, companyID string) (game.CompanyLedger, error) {
	var out game.CompanyLedger
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(gameID, "companies", companyID), nil, &out, "", false)
	return out, err
}

func (c *Client) Log(ctx context.Context, gameID string) ([]game.LogEntry, error) {
	var out struct {
		Entries []game.LogEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(gameID, "log"), nil, &out, "", false)
	return out.Entries, err
}

func (c *Client) DecisionTemplate(ctx context.Context) (game.Decisions, error) {
	var out game.Decisions
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/templates/decisions", nil, &out, "", false)
	return out, err
}

func (c *Client) ListGames(ctx context.Context) ([]game.SessionSummary, error) {
	var out struct {
		Games []game.SessionSummary `json:"games"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/games", nil, &out, "", true)
	return out.Games, err
}

func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out struct {
		Strategies []string `json:"strategies"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/strategies", nil, &out, "", true)
	return out.Strategies, err
}

func (c *Client) Reset(ctx context.Context, gameID string) (game.ResetResult, error) {
	var out game.ResetResult
	err := c.jsonRequest(ctx, http.MethodPost, adminGamePath(gameID, "reset"), nil, &out, "", true)
	return out, err
}

func (c *Client) SetLock(ctx context.Context, gameID, companyID string, locked bool) (game.SubmitResult, error) {
	action := "unlock"
	if locked {
		action = "lock"
	}
	var out game.SubmitResult
	err := c.jsonRequest(ctx, http.MethodPost, adminGamePath(gameID, "companies", companyID, action), nil, &out, "", true)
	return out, err
}

func (c *Client) AddCompetitor(ctx context.Context, gameID, companyID, name, strategy string) (game.StatusView, error) {
	var out game.StatusView
	err := c.jsonRequest(ctx, http.MethodPost, adminGamePath(gameID, "competitors"), map[string]any{
		"company_id":   companyID,
		"company_name": name,
		"strategy":     strategy,
	}, &out, "", true)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string, admin bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.AdminKey == "" {
			return fmt.Errorf("admin key required (set BIZSIM_ADMIN_KEY)")
		}
		req.Header.Set("X-Admin-Key", c.AdminKey)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Body: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
