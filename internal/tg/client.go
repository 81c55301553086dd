package tg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"checkinbot/internal/domain"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram allows roughly 30 messages per second per bot.
const sendRatePerSec = 25

// Client is a minimal Bot API client: long-polled updates in, messages out.
// Outbound sends pass through a rate limiter.
type Client struct {
	token   string
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(token string) *Client {
	return &Client{
		token:   token,
		base:    defaultBaseURL,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSec), sendRatePerSec),
	}
}

// NewClientWithBase is used by tests to point the client at a stub server.
func NewClientWithBase(token, base string) *Client {
	c := NewClient(token)
	c.base = base
	return c
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("%s: telegram error %d: %s", method, env.ErrorCode, env.Description)
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

type getUpdatesReq struct {
	Offset  int64 `json:"offset,omitempty"`
	Timeout int   `json:"timeout,omitempty"`
}

// Poll long-polls getUpdates for events strictly after sinceOffset.
// Implements the relay's Source.
func (c *Client) Poll(ctx context.Context, sinceOffset int64, timeout time.Duration) ([]domain.Event, error) {
	// Telegram's offset confirms everything below it.
	req := getUpdatesReq{Offset: sinceOffset + 1, Timeout: int(timeout.Seconds())}

	// Leave the server room to answer after the long-poll window closes.
	callCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var raws []json.RawMessage
	if err := c.call(callCtx, "getUpdates", req, &raws); err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(raws))
	for _, raw := range raws {
		var u struct {
			UpdateID int64 `json:"update_id"`
		}
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("getUpdates: malformed update: %w", err)
		}
		events = append(events, domain.Event{Offset: u.UpdateID, Raw: raw})
	}
	return events, nil
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, "sendMessage", sendMessageReq{ChatID: chatID, Text: text}, nil)
}

const defaultPrompt = "Hi! Just checking in. How are things going?"

// Send implements the dispatch loop's delivery boundary. The payload is the
// scheduled PromptPayload; an empty one falls back to the default prompt.
func (c *Client) Send(ctx context.Context, subjectID int64, payload json.RawMessage) error {
	text := defaultPrompt
	if len(payload) > 0 {
		var p domain.PromptPayload
		if err := json.Unmarshal(payload, &p); err == nil && p.Text != "" {
			text = p.Text
		}
	}
	return c.SendMessage(ctx, subjectID, text)
}
