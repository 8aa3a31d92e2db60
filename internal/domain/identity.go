package domain

import (
	"strconv"
	"strings"
)

// Identity is the composite key of one notification: who was told about
// which item from which source. It is comparable and safe as a map key.
type Identity struct {
	SubscriberID string
	Source       string
	ExternalID   string
}

// DeriveIdentity builds the notification identity for a triple.
func DeriveIdentity(subscriberID, source, externalID string) Identity {
	return Identity{
		SubscriberID: subscriberID,
		Source:       source,
		ExternalID:   externalID,
	}
}

// Key encodes the identity as a single string for key-value stores.
// Each component is length-prefixed, so no separator can be forged by
// component content.
func (id Identity) Key() string {
	var b strings.Builder
	for _, part := range [...]string{id.SubscriberID, id.Source, id.ExternalID} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

func (id Identity) String() string {
	return strconv.Quote(id.SubscriberID) + "/" + strconv.Quote(id.Source) + "/" + strconv.Quote(id.ExternalID)
}
