package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageLen stays under the Bot API limit of 4096 characters.
	maxMessageLen = 4000
)

// Sender posts batches to a Telegram chat via the bot API. Long batches are
// split across several messages.
type Sender struct {
	botToken    string
	defaultChat string
	apiBase     string
	client      *http.Client
}

var _ ports.Sender = (*Sender)(nil)

// NewSender registers bot token and the chat used for subscribers without
// their own chat id.
func NewSender(botToken, defaultChat string) *Sender {
	return &Sender{
		botToken:    botToken,
		defaultChat: defaultChat,
		apiBase:     defaultAPIBase,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Send delivers the batch. When a later chunk fails after earlier ones went
// out, the error is a *domain.PartialDeliveryError naming the delivered items.
func (s *Sender) Send(ctx context.Context, batch domain.Batch) error {
	chat := batch.Subscriber.ChatID
	if chat == "" {
		chat = s.defaultChat
	}
	if s.botToken == "" || chat == "" || s.client == nil {
		return fmt.Errorf("telegram sender misconfigured")
	}

	var delivered []string
	for _, chunk := range chunkBatch(batch, maxMessageLen) {
		if err := s.sendMessage(ctx, chat, chunk.text); err != nil {
			if len(delivered) == 0 {
				return err
			}
			return &domain.PartialDeliveryError{Delivered: delivered, Err: err}
		}
		delivered = append(delivered, chunk.ids...)
	}
	return nil
}

func (s *Sender) sendMessage(ctx context.Context, chat, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(s.apiBase, "/"), s.botToken)
	form := url.Values{}
	form.Set("chat_id", chat)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("telegram error: %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewTransientError(err)
		}
		return err
	}

	return nil
}

type chunk struct {
	text string
	ids  []string
}

func chunkBatch(batch domain.Batch, limit int) []chunk {
	header := fmt.Sprintf("New positions from %s for %s\n", batch.Source.DisplayName(), batch.Subscriber.Name())

	var (
		chunks []chunk
		cur    = chunk{text: header}
	)
	for i, m := range batch.Matches {
		entry := formatEntry(i+1, m)
		if len(cur.ids) > 0 && len(cur.text)+len(entry) > limit {
			chunks = append(chunks, cur)
			cur = chunk{text: header}
		}
		if len(header)+len(entry) > limit {
			entry = truncate(entry, limit-len(header))
		}
		cur.text += entry
		cur.ids = append(cur.ids, m.Item.ExternalID)
	}
	if len(cur.ids) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func formatEntry(n int, m domain.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%d. %s\n", n, m.Item.Title)
	if len(m.MatchedKeywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(m.MatchedKeywords, ", "))
	}
	if m.Item.Deadline != "" {
		fmt.Fprintf(&b, "Apply before: %s\n", m.Item.Deadline)
	}
	if m.Item.URL != "" {
		fmt.Fprintf(&b, "%s\n", m.Item.URL)
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
