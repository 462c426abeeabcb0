// Package telegram posts payment notifications to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pickandplay/guitar-api/internal"
)

const DefaultAPIURL = "https://api.telegram.org"

var ErrNotConfigured = errors.New("telegram: bot token or chat id missing")

// Client talks to the Bot API sendMessage method.
type Client struct {
	apiURL     string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg internal.TelegramConfig, logger *slog.Logger) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiURL:     apiURL,
		botToken:   strings.TrimSpace(cfg.BotToken),
		chatID:     strings.TrimSpace(cfg.ChatID),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) IsConfigured() bool {
	return c.botToken != "" && c.chatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts text, formatted as Markdown, to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	jsonData, err := json.Marshal(sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the URL embeds the token; never log it
		return fmt.Errorf("telegram request failed: %w", redact(err, c.botToken))
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, body.Description)
	}

	c.logger.Debug("telegram message sent", "status_code", resp.StatusCode)
	return nil
}

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "***"))
}

var markdownReplacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"]", `\]`,
	"`", "\\`",
)

// EscapeMarkdown escapes the characters that are special in legacy Markdown mode.
func EscapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}
