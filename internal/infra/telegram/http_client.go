// internal/infra/telegram/http_client.go
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gym_billing_bot/internal/domain/messenger"

	"golang.org/x/time/rate"
)

const botAPIBase = "https://api.telegram.org"

// HTTPClient is the fallback transport: it talks to the Bot API over
// plain HTTP when the telebot adapter is not initialized (for example
// when long polling could not start). Requests are paced with a token
// bucket so a burst of notifications cannot trip the Bot API's global
// per-second limits.
type HTTPClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(token string) *HTTPClient {
	return &HTTPClient{
		token:   token,
		baseURL: botAPIBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(25), 5), // Bot API allows ~30 msg/s globally
	}
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// SendTemplate renders the template and posts it via the sendMessage
// endpoint.
func (c *HTTPClient) SendTemplate(ctx context.Context, recipient string, template messenger.TemplateID, params []string) (string, error) {
	if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
		return "", fmt.Errorf("invalid recipient chat id %q: %w", recipient, err)
	}

	text, err := messenger.Render(template, params)
	if err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate pacer wait: %w", err)
	}

	form := url.Values{}
	form.Set("chat_id", recipient)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendMessage request: %w", err)
	}
	defer resp.Body.Close()

	var body sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode sendMessage response: %w", err)
	}
	if !body.OK {
		return "", fmt.Errorf("sendMessage rejected (HTTP %d): %s", resp.StatusCode, body.Description)
	}
	return strconv.Itoa(body.Result.MessageID), nil
}
