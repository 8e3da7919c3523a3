package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func NewClient(apiKey string, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:   host,
		apiKey: apiKey,
	}
}

type Client struct {
	host   string
	apiKey string
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, buf)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBytes, out)
}

// Send submits one message. A Result with Success false carries the reason,
// quota rejections also carry RetryAfter in seconds.
func (c *Client) Send(ctx context.Context, email *Email) (Result, error) {
	var r Result
	err := c.do(ctx, "POST", "/send", email, &r)
	return r, err
}

// SendBatch submits several messages in one call, one Result per position.
func (c *Client) SendBatch(ctx context.Context, emails []Email) ([]Result, error) {
	var r []Result
	err := c.do(ctx, "POST", "/send/batch", emails, &r)
	return r, err
}

// EmailStatus is the current state and event history of a submitted message.
type EmailStatus struct {
	MessageId  string   `json:"message_id"`
	TrackingId string   `json:"tracking_id"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Status     Status   `json:"status"`
	RetryCount int      `json:"retry_count"`
	LastError  string   `json:"last_error,omitempty"`

	Events []struct {
		Type      EventType `json:"type"`
		LatencyMS int64     `json:"latency_ms,omitempty"`
		Error     string    `json:"error,omitempty"`
		CreatedAt string    `json:"created_at"`
	} `json:"events"`
}

// Status fetches the state of a previously sent message.
func (c *Client) Status(ctx context.Context, messageId string) (EmailStatus, error) {
	var s EmailStatus
	err := c.do(ctx, "GET", fmt.Sprintf("/emails/%s", messageId), nil, &s)
	return s, err
}
