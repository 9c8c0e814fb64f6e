// Package rest implements roomsync.Backend over the server's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vovakirdan/roomsync-go/roomsync"
)

// Client provides REST API access to a roomsync server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ListRooms returns rooms ordered by creation time.
func (c *Client) ListRooms(ctx context.Context) ([]roomsync.Room, error) {
	var rooms []roomsync.Room
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, fmt.Errorf("rest.ListRooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a new room.
func (c *Client) CreateRoom(ctx context.Context, req roomsync.NewRoom) (roomsync.Room, error) {
	var room roomsync.Room
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &room); err != nil {
		return roomsync.Room{}, fmt.Errorf("rest.CreateRoom: %w", err)
	}
	return room, nil
}

// RecentMessages retrieves the newest limit messages of a room.
func (c *Client) RecentMessages(ctx context.Context, roomID string, limit int) ([]roomsync.MessageRow, error) {
	path := "/rooms/" + url.PathEscape(roomID) + "/messages?limit=" + strconv.Itoa(limit)
	var resp MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("rest.RecentMessages: %w", err)
	}
	return resp.Messages, nil
}

// Author returns nil, nil when the server has no profile for id.
func (c *Client) Author(ctx context.Context, id string) (*roomsync.Author, error) {
	var a roomsync.Author
	err := c.do(ctx, http.MethodGet, "/authors/"+url.PathEscape(id), nil, &a)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rest.Author: %w", err)
	}
	return &a, nil
}

// ActiveAuthors returns the authors last seen at or after since.
func (c *Client) ActiveAuthors(ctx context.Context, since time.Time) ([]roomsync.Author, error) {
	path := "/authors?active_since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	var authors []roomsync.Author
	if err := c.do(ctx, http.MethodGet, path, nil, &authors); err != nil {
		return nil, fmt.Errorf("rest.ActiveAuthors: %w", err)
	}
	return authors, nil
}

// InsertMessage posts a message and returns the stored row.
func (c *Client) InsertMessage(ctx context.Context, msg roomsync.NewMessage) (roomsync.MessageRow, error) {
	var row roomsync.MessageRow
	path := "/rooms/" + url.PathEscape(msg.RoomID) + "/messages"
	body := PostMessageRequest{UserID: msg.AuthorID, Content: msg.Content}
	if err := c.do(ctx, http.MethodPost, path, body, &row); err != nil {
		return roomsync.MessageRow{}, fmt.Errorf("rest.InsertMessage: %w", err)
	}
	return row, nil
}

// PutAuthor creates or replaces the caller's profile.
func (c *Client) PutAuthor(ctx context.Context, a roomsync.Author) (roomsync.Author, error) {
	var out roomsync.Author
	if err := c.do(ctx, http.MethodPut, "/authors/"+url.PathEscape(a.ID), a, &out); err != nil {
		return roomsync.Author{}, fmt.Errorf("rest.PutAuthor: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: string(data)}
	}

	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

var _ roomsync.Backend = (*Client)(nil)
