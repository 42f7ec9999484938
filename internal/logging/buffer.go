package logging

import "sync"

// Buffer keeps the most recent entries in a fixed-size ring.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	count   int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{entries: make([]Entry, size)}
}

func (b *Buffer) Add(entry Entry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// List returns entries oldest-first.
func (b *Buffer) List() []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, b.count)
	start := b.next - b.count
	if start < 0 {
		start += len(b.entries)
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.entries[(start+i)%len(b.entries)])
	}
	return out
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
