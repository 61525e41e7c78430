package mqtt

// bufferedMsg is a serialized publish waiting for a connection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages in arrival order. When full, a
// push evicts the oldest entry. Callers synchronize access.
type ringBuffer struct {
	msgs    []bufferedMsg
	start   int // index of the oldest entry
	count   int
	dropped int // evictions since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{msgs: make([]bufferedMsg, capacity)}
}

// push appends msg and reports whether an older message was evicted.
func (r *ringBuffer) push(msg bufferedMsg) bool {
	n := len(r.msgs)
	if r.count == n {
		r.msgs[r.start] = msg
		r.start = (r.start + 1) % n
		r.dropped++
		return true
	}
	r.msgs[(r.start+r.count)%n] = msg
	r.count++
	return false
}

// drainAll removes and returns every message, oldest first, or nil when empty.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	n := len(r.msgs)
	out := make([]bufferedMsg, r.count)
	for i := range out {
		j := (r.start + i) % n
		out[i] = r.msgs[j]
		r.msgs[j] = bufferedMsg{}
	}

	r.start, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
