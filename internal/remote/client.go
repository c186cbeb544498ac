// Package remote is the HTTP client for the creator-platform REST API.
// Every call authenticates through the token manager and, on a 401,
// refreshes once and replays the request.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/rangefetch"
)

// TokenSource supplies per-account bearer tokens.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID string) (string, error)
	RefreshToken(ctx context.Context, accountID string) (string, error)
}

type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	tokens     TokenSource
}

func NewClient(baseURL, apiVersion string, httpClient *http.Client, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		tokens:     tokens,
	}
}

func (c *Client) ListChats(ctx context.Context, accountID string, limit int) (rangefetch.Page[Chat], error) {
	var page rangefetch.Page[Chat]
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, accountID, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/chats", q, nil, &page)
	return page, err
}

func (c *Client) ListMessages(ctx context.Context, accountID, fanID string, limit int) (rangefetch.Page[Message], error) {
	var page rangefetch.Page[Message]
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, accountID, http.MethodGet, c.threadPath(accountID, fanID), q, nil, &page)
	return page, err
}

func (c *Client) SendMessage(ctx context.Context, accountID, fanID string, req SendRequest) (*Message, error) {
	var msg Message
	if err := c.do(ctx, accountID, http.MethodPost, c.threadPath(accountID, fanID), nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Transactions fetches one page of earnings inside w.
func (c *Client) Transactions(ctx context.Context, accountID string, w rangefetch.Window, cursor string) (rangefetch.Page[Transaction], error) {
	var page rangefetch.Page[Transaction]
	err := c.do(ctx, accountID, http.MethodGet,
		"/v1/accounts/"+url.PathEscape(accountID)+"/transactions", windowQuery(w, cursor), nil, &page)
	return page, err
}

// SubscriberEvents fetches one page of subscription changes inside w.
func (c *Client) SubscriberEvents(ctx context.Context, accountID string, w rangefetch.Window, cursor string) (rangefetch.Page[SubscriberEvent], error) {
	var page rangefetch.Page[SubscriberEvent]
	err := c.do(ctx, accountID, http.MethodGet,
		"/v1/accounts/"+url.PathEscape(accountID)+"/subscribers/events", windowQuery(w, cursor), nil, &page)
	return page, err
}

func (c *Client) threadPath(accountID, fanID string) string {
	return "/v1/accounts/" + url.PathEscape(accountID) + "/chats/" + url.PathEscape(fanID) + "/messages"
}

// windowQuery sends the window bounds as given. endDate is the next
// window's startDate; callers drop records at or after End, so the range
// stays half-open whether or not the platform treats endDate as inclusive.
func windowQuery(w rangefetch.Window, cursor string) url.Values {
	q := url.Values{
		"startDate": {w.Start.UTC().Format(time.RFC3339)},
		"endDate":   {w.End.UTC().Format(time.RFC3339)},
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

// do sends one request. A 401 triggers exactly one refresh and replay.
func (c *Client) do(ctx context.Context, accountID, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	token, err := c.tokens.GetValidToken(ctx, accountID)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, token, method, path, query, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if token, err = c.tokens.RefreshToken(ctx, accountID); err != nil {
			return err
		}
		if resp, err = c.send(ctx, token, method, path, query, payload); err != nil {
			return err
		}
	}
	defer drain(resp)

	if err := googleapi.CheckResponse(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, apperr.ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, token, method, path string, query url.Values, payload []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
