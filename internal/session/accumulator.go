package session

// Accumulator collects binary audio chunks between one stream-start and
// stream-end pair. Chunks are kept in exact arrival order because the
// encoded stream is one continuous asset, not independently decodable
// frames. Not safe for concurrent use; the engine serializes access.
type Accumulator struct {
	chunks [][]byte
}

// Reset drops any collected chunks.
func (a *Accumulator) Reset() {
	a.chunks = nil
}

// Append adds one chunk after the previously collected ones.
func (a *Accumulator) Append(chunk []byte) {
	a.chunks = append(a.chunks, chunk)
}

// Take returns the collected chunks in arrival order and resets the
// accumulator.
func (a *Accumulator) Take() [][]byte {
	chunks := a.chunks
	a.chunks = nil
	return chunks
}

// Empty reports whether no chunks have been collected.
func (a *Accumulator) Empty() bool {
	return len(a.chunks) == 0
}
