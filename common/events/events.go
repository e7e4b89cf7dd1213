// Package events carries transfer lifecycle notifications to observers
// outside the process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/tufstash/common/models"
)

// Type names a transfer lifecycle transition
type Type string

const (
	TypeStarted   Type = "transfer.started"
	TypeProgress  Type = "transfer.progress"
	TypeCompleted Type = "transfer.completed"
	TypeFailed    Type = "transfer.failed"
	TypeCancelled Type = "transfer.cancelled"
)

const (
	channelPrefix = "transfer:events:"
	statePrefix   = "transfer:state:"
)

// ChannelPattern matches the channel of every short commit
const ChannelPattern = channelPrefix + "*"

// Event is one transition of one transfer
type Event struct {
	Type     Type                 `json:"type"`
	Transfer models.TransferState `json:"transfer"`
	At       time.Time            `json:"at"`
}

// Publisher hands events to observers. Implementations must not block the
// caller on a slow observer and must not fail the transfer that emitted them.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, Event) {}

// ChannelFor returns the pub/sub channel for a short commit
func ChannelFor(shortCommit string) string {
	return channelPrefix + shortCommit
}

// ShortCommitFromChannel extracts the short commit from a channel name.
// Example: "transfer:events:abcdef123456" -> "abcdef123456"
func ShortCommitFromChannel(channel string) (string, bool) {
	short, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || short == "" || strings.Contains(short, ":") {
		return "", false
	}
	return short, true
}

// StateKey returns the key holding the latest snapshot of one artifact's transfer
func StateKey(shortCommit string, role models.Role) string {
	return statePrefix + shortCommit + ":" + role.RemoteName()
}

// StateKeys returns the snapshot keys of every role of a short commit
func StateKeys(shortCommit string) []string {
	keys := make([]string, 0, len(models.Roles()))
	for _, role := range models.Roles() {
		keys = append(keys, StateKey(shortCommit, role))
	}
	return keys
}

// Encode serializes an event for the wire
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	return data, nil
}

// Decode parses an event produced by Encode
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}
