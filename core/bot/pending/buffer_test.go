package pending

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendClaimOrder(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 3; i++ {
		b.Append(7, Message{PeerID: 7, MessageID: int64(100 + i), Text: fmt.Sprintf("msg-%d", i), ReceivedAt: time.Now()})
	}
	require.Equal(t, 3, b.Len(7))

	batch := b.Claim(7)
	require.Len(t, batch, 3)
	for i, msg := range batch {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Text)
	}

	// Claim cleared the list; a second claim is empty.
	assert.Empty(t, b.Claim(7))
	assert.Equal(t, 0, b.Len(7))
}

func TestClaimUnknownPeer(t *testing.T) {
	b := NewBuffer()
	assert.Empty(t, b.Claim(404))
}

func TestPeersAreIndependent(t *testing.T) {
	b := NewBuffer()
	b.Append(1, Message{PeerID: 1, Text: "one"})
	b.Append(2, Message{PeerID: 2, Text: "two"})

	batch := b.Claim(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "one", batch[0].Text)
	assert.Equal(t, 1, b.Len(2))
}

func TestConcurrentAppendsAllClaimed(t *testing.T) {
	b := NewBuffer()
	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(9, Message{PeerID: 9, MessageID: int64(w*perWriter + i)})
			}
		}(w)
	}
	wg.Wait()

	batch := b.Claim(9)
	assert.Len(t, batch, writers*perWriter)
	assert.Empty(t, b.Claim(9))
}

func TestConcurrentClaimsPartitionBatch(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 100; i++ {
		b.Append(5, Message{PeerID: 5, MessageID: int64(i)})
	}

	var wg sync.WaitGroup
	results := make([][]Message, 4)
	wg.Add(len(results))
	for i := range results {
		go func(i int) {
			defer wg.Done()
			results[i] = b.Claim(5)
		}(i)
	}
	wg.Wait()

	// Exactly one claimer wins the whole batch.
	total := 0
	winners := 0
	for _, r := range results {
		total += len(r)
		if len(r) > 0 {
			winners++
		}
	}
	assert.Equal(t, 100, total)
	assert.Equal(t, 1, winners)
}
