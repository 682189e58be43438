// Package buffer provides a bounded, ordered chunk history for session
// output caching.
package buffer

import "sync"

// Chunk is one delivered ANSI chunk with its session-wide sequence number.
type Chunk struct {
	Seq  uint64 `json:"seq"`
	Data []byte `json:"data"`
}

// ChunkBuffer is a thread-safe bounded history of the most recent output
// chunks. When the stored bytes exceed capacity, oldest chunks are evicted
// whole. Sequence numbers are monotonically increasing and survive
// eviction, so a reconnecting client can tell what it missed.
type ChunkBuffer struct {
	mu       sync.RWMutex
	chunks   []Chunk
	bytes    int
	capacity int
	nextSeq  uint64
}

// NewChunkBuffer creates a buffer bounded to capacity bytes of chunk data.
// A non-positive capacity defaults to 1. Sequence numbers start at 1, so
// 0 always means "nothing seen yet" for replay cursors.
func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChunkBuffer{capacity: capacity, nextSeq: 1}
}

// Append copies data into the history and returns the stored chunk.
// Empty appends do not consume a sequence number.
func (b *ChunkBuffer) Append(data []byte) Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data) == 0 {
		return Chunk{Seq: b.nextSeq}
	}

	c := Chunk{Seq: b.nextSeq, Data: append([]byte(nil), data...)}
	b.nextSeq++
	b.chunks = append(b.chunks, c)
	b.bytes += len(c.Data)

	for b.bytes > b.capacity && len(b.chunks) > 1 {
		b.bytes -= len(b.chunks[0].Data)
		b.chunks = b.chunks[1:]
	}
	// A single chunk larger than the capacity stays; history never holds
	// a partial chunk.
	return c
}

// Since returns a copy of all retained chunks with Seq >= seq, in order.
func (b *ChunkBuffer) Since(seq uint64) []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx := len(b.chunks)
	for i, c := range b.chunks {
		if c.Seq >= seq {
			idx = i
			break
		}
	}
	out := make([]Chunk, len(b.chunks)-idx)
	copy(out, b.chunks[idx:])
	return out
}

// Snapshot returns a copy of every retained chunk in order.
func (b *ChunkBuffer) Snapshot() []Chunk {
	return b.Since(0)
}

// NextSeq returns the sequence number the next appended chunk will get.
func (b *ChunkBuffer) NextSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Len returns the number of retained chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Bytes returns the total size of retained chunk data.
func (b *ChunkBuffer) Bytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}
