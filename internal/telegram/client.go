package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is a thin wrapper over the Bot API methods this service needs.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Client{baseURL: baseURL, token: token, client: &http.Client{}}
}

// --- API types ---

type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

type IncomingMessage struct {
	MessageID      int64            `json:"message_id"`
	From           *User            `json:"from"`
	Chat           Chat             `json:"chat"`
	Text           string           `json:"text"`
	ReplyToMessage *IncomingMessage `json:"reply_to_message"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// FullName falls back to the username, then the numeric id.
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = fmt.Sprintf("%d", u.ID)
	}
	return name
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func (c Chat) IsGroup() bool { return c.Type == "group" || c.Type == "supergroup" }

type ChatMember struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// --- API methods ---

// Send delivers one HTML-formatted message. Implements service.Notifier.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	body := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return c.doJSON(ctx, "sendMessage", body, nil)
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	body := map[string]interface{}{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.doJSON(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error) {
	body := map[string]interface{}{"chat_id": chatID, "user_id": userID}
	var member ChatMember
	if err := c.doJSON(ctx, "getChatMember", body, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// --- HTTP helper ---

func (c *Client) doJSON(ctx context.Context, method string, body interface{}, out interface{}) error {
	data, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram %s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		return fmt.Errorf("telegram %s: %s", method, env.Description)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
