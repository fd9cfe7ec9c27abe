package measure

// DefaultFlushSize is larger than the last-level cache of common machines.
const DefaultFlushSize = 32 << 20

const cacheLine = 64

// Flusher evicts the caches by reading a scratch buffer larger than them.
type Flusher struct {
	buf  []byte
	sink byte
}

// NewFlusher allocates and touches a scratch buffer of size bytes. A
// non-positive size disables flushing.
func NewFlusher(size int) *Flusher {
	if size <= 0 {
		return &Flusher{}
	}
	f := &Flusher{buf: make([]byte, size)}
	for i := range f.buf {
		f.buf[i] = byte(i)
	}
	return f
}

// Flush reads one byte of every cache line of the scratch buffer.
func (f *Flusher) Flush() {
	var acc byte
	for i := 0; i < len(f.buf); i += cacheLine {
		acc ^= f.buf[i]
	}
	f.sink = acc
}
