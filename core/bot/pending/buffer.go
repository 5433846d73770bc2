// Package pending buffers free-form input a participant sends before pressing
// a menu button. The buffer is the only process-wide conversation state: a
// claim atomically takes the whole batch, so the handler that finally resolves
// sees every message that arrived before it, in arrival order.
package pending

import (
	"sync"
	"time"

	"github.com/m3rciful/artbot/core/vk"
)

// Message is a single inbound unit of content with no actionable payload.
type Message struct {
	PeerID      int64
	MessageID   int64
	Text        string
	Attachments []vk.Attachment
	ReceivedAt  time.Time
}

// Buffer is a process-wide store of not-yet-actioned messages keyed by peer.
// All operations run under one mutex; the critical sections are O(1) map work
// with no I/O, so a claim always observes every append that returned before it.
type Buffer struct {
	mu     sync.Mutex
	byPeer map[int64][]Message
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{byPeer: make(map[int64][]Message)}
}

// Append adds msg to the tail of the peer's pending list, creating it if absent.
func (b *Buffer) Append(peerID int64, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byPeer[peerID] = append(b.byPeer[peerID], msg)
}

// Claim atomically returns and clears the peer's pending list. The returned
// batch is in arrival order and owned by the caller; a second claim with no
// interleaving appends returns an empty batch.
func (b *Buffer) Claim(peerID int64) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.byPeer[peerID]
	if len(batch) == 0 {
		return nil
	}
	delete(b.byPeer, peerID)
	return batch
}

// Len reports the number of messages currently buffered for the peer.
func (b *Buffer) Len(peerID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byPeer[peerID])
}
