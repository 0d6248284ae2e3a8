// Package telegram sends run summaries to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/mackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification posts the run summary. Delivery problems are reported in
// the result, never as an error.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Description != "" {
			result.Error = fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, apiErr.Description)
		} else {
			result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		}
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	if msg.Success {
		b.WriteString("\u2705 <b>Backup Successful</b>\n\n")
	} else {
		b.WriteString("\u274c <b>Backup Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "<b>Device:</b> %s\n", escapeHTML(msg.Device))
	fmt.Fprintf(&b, "<b>Slot:</b> %s\n", escapeHTML(msg.Weekday))
	fmt.Fprintf(&b, "<b>Share:</b> %s\n", escapeHTML(msg.Share))
	fmt.Fprintf(&b, "<b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "<b>Duration:</b> %s\n", msg.Duration.Round(time.Second))
	if msg.RunID != "" {
		fmt.Fprintf(&b, "<b>Run:</b> <code>%s</code>\n", escapeHTML(msg.RunID))
	}

	if msg.Success {
		b.WriteString("\n<b>Copied:</b>\n")
		fmt.Fprintf(&b, "  \u2022 Sources: %d\n", msg.Sources)
		fmt.Fprintf(&b, "  \u2022 Files: %s\n", humanize.Comma(int64(msg.Files)))
		fmt.Fprintf(&b, "  \u2022 Data: %s\n", humanize.IBytes(uint64(msg.Bytes)))
		if msg.Fallbacks > 0 {
			fmt.Fprintf(&b, "  \u2022 Without metadata: %d\n", msg.Fallbacks)
		}
		if msg.Skipped > 0 {
			fmt.Fprintf(&b, "  \u2022 Dangling links skipped: %d\n", msg.Skipped)
		}
		if msg.ArchivePath != "" {
			b.WriteString("\n<b>Archive:</b>\n")
			fmt.Fprintf(&b, "  \u2022 <code>%s</code>\n", escapeHTML(msg.ArchivePath))
			fmt.Fprintf(&b, "  \u2022 Size: %s\n", humanize.IBytes(uint64(msg.ArchiveBytes)))
		}
	} else {
		b.WriteString("\n<b>Error Details:</b>\n")
		fmt.Fprintf(&b, "  \u2022 Failed step: %s\n", escapeHTML(msg.FailedStep))
		fmt.Fprintf(&b, "  \u2022 Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
