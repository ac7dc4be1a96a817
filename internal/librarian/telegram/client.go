// Package telegram is a minimal Bot API client covering what the pipeline
// needs: inline-keyboard prompts, force-reply questions, document uploads
// and long polling.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

// ErrConflict signals another poller is consuming the same bot token
// (HTTP 409). Callers back off rather than retry immediately.
var ErrConflict = errors.New("telegram: conflicting getUpdates consumer")

// Button is one inline keyboard button. Data is the callback token.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Message is an incoming or sent Telegram message.
type Message struct {
	MessageID int64    `json:"message_id"`
	Text      string   `json:"text"`
	Chat      Chat     `json:"chat"`
	ReplyTo   *Message `json:"reply_to_message,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Bot is the API surface the pipeline depends on.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) (*Message, error)
	SendForceReply(ctx context.Context, chatID int64, text string) (*Message, error)
	SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader, caption string) error
	EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Client implements Bot over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client. The default allows for the
// long-poll timeout plus headroom.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 40 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrConflict
	}

	var decoded apiResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	if !decoded.OK {
		return fmt.Errorf("%s failed: %s", method, decoded.Description)
	}
	if out != nil && decoded.Result != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("parse %s result: %w", method, err)
		}
	}
	return nil
}

type inlineKeyboard struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

// SendMessage sends text, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) (*Message, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(keyboard) > 0 {
		payload["reply_markup"] = inlineKeyboard{InlineKeyboard: keyboard}
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendForceReply sends a question that the Telegram client answers with a
// reply, used for free-text name entry.
func (c *Client) SendForceReply(ctx context.Context, chatID int64, text string) (*Message, error) {
	payload := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": map[string]bool{"force_reply": true},
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendDocument uploads a file, used for finished transcripts.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader, caption string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("create document part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copy document data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL("sendDocument"), &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sendDocument: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sendDocument response: %w", err)
	}
	var decoded apiResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("parse sendDocument response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("sendDocument failed: %s", decoded.Description)
	}
	return nil
}

// EditReplyMarkup replaces a message's inline keyboard. A nil keyboard
// strips the buttons, used once a prompt is answered.
func (c *Client) EditReplyMarkup(ctx context.Context, chatID, messageID int64, keyboard [][]Button) error {
	if keyboard == nil {
		keyboard = [][]Button{}
	}
	payload := map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": inlineKeyboard{InlineKeyboard: keyboard},
	}
	return c.call(ctx, "editMessageReplyMarkup", payload, nil)
}

// AnswerCallback acknowledges a button press so the client stops showing
// its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// GetUpdates long-polls for updates past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
