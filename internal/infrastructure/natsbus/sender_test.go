package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionScanner/internal/domain"
)

type fakeJetStream struct {
	subject string
	data    []byte
	opts    int
	err     error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.data = data
	f.opts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "POSITIONS", Sequence: 1}, nil
}

func testBatch(ids ...string) domain.Batch {
	b := domain.Batch{
		Subscriber: domain.Subscriber{ID: "s1", Email: "s1@example.org"},
		Source:     domain.SourceProfile{Name: "uva.nl", Label: "UvA"},
	}
	for _, id := range ids {
		b.Matches = append(b.Matches, domain.Match{
			Item:            domain.Item{Source: "uva.nl", ExternalID: id, Title: "PhD " + id},
			MatchedKeywords: []string{"phd"},
			Identity:        domain.DeriveIdentity("s1", "uva.nl", id),
		})
	}
	return b
}

func TestSendPublishesPayload(t *testing.T) {
	t.Parallel()

	js := &fakeJetStream{}
	s := newSender(js, "fenjan.notify.")

	require.NoError(t, s.Send(context.Background(), testBatch("1", "2")))
	assert.Equal(t, "fenjan.notify.uva_nl", js.subject)
	assert.Equal(t, 1, js.opts)

	var p Payload
	require.NoError(t, json.Unmarshal(js.data, &p))
	assert.Equal(t, "s1", p.SubscriberID)
	assert.Equal(t, "UvA", p.SourceLabel)
	require.Len(t, p.Positions, 2)
	assert.Equal(t, "2", p.Positions[1].ExternalID)
}

func TestSendPublishFailureIsTransient(t *testing.T) {
	t.Parallel()

	s := newSender(&fakeJetStream{err: errors.New("no responders")}, "")
	err := s.Send(context.Background(), testBatch("1"))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestMessageIDIsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MessageID(testBatch("1", "2")), MessageID(testBatch("1", "2")))
	assert.NotEqual(t, MessageID(testBatch("1", "2")), MessageID(testBatch("1")))
	assert.NotEqual(t, MessageID(testBatch("12")), MessageID(testBatch("1", "2")))
}

func TestSubjectToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "helsinki_fi", subjectToken("helsinki_fi"))
	assert.Equal(t, "a_b__c", subjectToken("a.b *c"))
	assert.Equal(t, "_", subjectToken(""))
}
