package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mazungumzo/internal/models"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// UserHeader carries the caller's identity to the history service.
const UserHeader = "X-User-ID"

// Client fetches conversation history over HTTP.
type Client struct {
	baseURL string
	userID  models.ID
	http    *http.Client
}

func NewClient(baseURL string, userID models.ID, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		userID:  userID,
		http:    httpClient,
	}
}

func (c *Client) endpoint(conversationID models.ID) string {
	return fmt.Sprintf("%s/api/chat/conversations/%s/messages/", c.baseURL, url.PathEscape(string(conversationID)))
}

// Fetch returns the messages of a conversation, oldest first.
func (c *Client) Fetch(ctx context.Context, conversationID models.ID) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(conversationID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(UserHeader, string(c.userID))
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call history API: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	for i := range messages {
		if messages[i].ConversationID == "" {
			messages[i].ConversationID = conversationID
		}
	}
	return messages, nil
}
