package natsbus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

const defaultSubjectPrefix = "positions.notify"

// publisher is the part of jetstream.JetStream the sender needs.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Sender publishes each batch as one JetStream message on
// <prefix>.<source>. The message id is derived from the batch identities so
// the stream's duplicate window drops a republished batch.
type Sender struct {
	conn   *nats.Conn
	js     publisher
	prefix string
}

var _ ports.Sender = (*Sender)(nil)

// Payload is the JSON body of a notification message.
type Payload struct {
	SubscriberID string            `json:"subscriber_id"`
	Email        string            `json:"email,omitempty"`
	ChatID       string            `json:"chat_id,omitempty"`
	Source       string            `json:"source"`
	SourceLabel  string            `json:"source_label"`
	Positions    []PayloadPosition `json:"positions"`
	SentAt       time.Time         `json:"sent_at"`
}

// PayloadPosition is one matched item.
type PayloadPosition struct {
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	URL        string   `json:"url,omitempty"`
	Deadline   string   `json:"deadline,omitempty"`
	Keywords   []string `json:"keywords"`
}

// Connect dials the NATS server and opens a JetStream context.
func Connect(url, subjectPrefix string) (*Sender, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url, nats.Name("positionscanner"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	s := newSender(js, subjectPrefix)
	s.conn = nc
	return s, nil
}

func newSender(js publisher, prefix string) *Sender {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Sender{js: js, prefix: strings.TrimSuffix(prefix, ".")}
}

// Send publishes the batch and waits for the stream acknowledgement.
func (s *Sender) Send(ctx context.Context, batch domain.Batch) error {
	data, err := json.Marshal(buildPayload(batch, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	subject := s.prefix + "." + subjectToken(batch.Source.Name)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(MessageID(batch))); err != nil {
		return domain.NewTransientError(fmt.Errorf("publish %s: %w", subject, err))
	}
	return nil
}

// Close drains the connection.
func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

func buildPayload(batch domain.Batch, now time.Time) Payload {
	p := Payload{
		SubscriberID: batch.Subscriber.ID,
		Email:        batch.Subscriber.Email,
		ChatID:       batch.Subscriber.ChatID,
		Source:       batch.Source.Name,
		SourceLabel:  batch.Source.DisplayName(),
		SentAt:       now,
	}
	for _, m := range batch.Matches {
		p.Positions = append(p.Positions, PayloadPosition{
			ExternalID: m.Item.ExternalID,
			Title:      m.Item.Title,
			URL:        m.Item.URL,
			Deadline:   m.Item.Deadline,
			Keywords:   m.MatchedKeywords,
		})
	}
	return p
}

// MessageID is a digest of the batch's identity keys in batch order.
func MessageID(batch domain.Batch) string {
	h := sha256.New()
	for _, id := range batch.Identities() {
		h.Write([]byte(id.Key()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// subjectToken makes a source name safe as a single subject token.
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, name)
}
