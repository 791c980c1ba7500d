package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"finman/internal/core"
)

// LedgerChangedMessage announces that a user's ledger was persisted after a
// mutation. It carries no records; consumers reload the ledger themselves.
type LedgerChangedMessage struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Operation string    `json:"operation"`
	Index     int       `json:"index"`
	Records   int       `json:"records"`
	Revision  int64     `json:"revision"`
	Timestamp time.Time `json:"timestamp"`
}

var errMissingUser = errors.New("ledger changed message without user")

// NewLedgerChangedMessage builds a message for change with a fresh ID.
func NewLedgerChangedMessage(change core.LedgerChange) *LedgerChangedMessage {
	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &LedgerChangedMessage{
		ID:        uuid.NewString(),
		User:      change.User,
		Operation: change.Operation,
		Index:     change.Index,
		Records:   change.Records,
		Revision:  change.Revision,
		Timestamp: ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON decodes a message and checks that it names a user.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.User == "" {
		return nil, errMissingUser
	}
	return &msg, nil
}
