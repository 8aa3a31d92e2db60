package domain

import "time"

// Match is an item staged for a subscriber together with the keywords that
// selected it.
type Match struct {
	Item            Item
	MatchedKeywords []string
	Identity        Identity
}

// Batch groups everything one subscriber is about to be told about one source.
type Batch struct {
	Subscriber Subscriber
	Source     SourceProfile
	Matches    []Match
}

// Identities lists the ledger keys staged in the batch, in item order.
func (b Batch) Identities() []Identity {
	ids := make([]Identity, 0, len(b.Matches))
	for _, m := range b.Matches {
		ids = append(ids, m.Identity)
	}
	return ids
}

// LedgerRecord is the persisted proof that an identity was notified.
type LedgerRecord struct {
	Identity   Identity
	NotifiedAt time.Time
}
