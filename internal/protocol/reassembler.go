package protocol

// Reassembler concatenates multi-packet fragments. The buffer is nil except
// strictly between a start fragment and its terminator.
type Reassembler struct {
	buf []byte
}

// Fragment appends the payload of a byteId 206 frame.
func (r *Reassembler) Fragment(frame []byte) {
	r.buf = append(r.buf, frame[PayloadStart:]...)
}

// Stop appends the payload of a byteId 207 frame, emits the whole message and
// clears the buffer. A terminator without fragments emits its own payload.
func (r *Reassembler) Stop(frame []byte, emit func(Event)) {
	msg := append(r.buf, frame[PayloadStart:]...)
	r.buf = nil
	emit(MessageEvent{Data: msg})
}

// Pending reports whether a message is being accumulated.
func (r *Reassembler) Pending() bool {
	return r.buf != nil
}

// Reset drops any partial message.
func (r *Reassembler) Reset() {
	r.buf = nil
}
