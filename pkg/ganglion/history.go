package ganglion

import (
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// frameHistory keeps the most recent raw frames, overwriting the oldest.
type frameHistory struct {
	buffer      mpmc.RichOverlappedRingBuffer[[]byte]
	overwritten atomic.Int64
	logger      *logrus.Logger
}

// newFrameHistory returns nil when size is zero; a nil history ignores frames.
func newFrameHistory(size int, logger *logrus.Logger) *frameHistory {
	if size <= 0 {
		return nil
	}
	return &frameHistory{
		buffer: mpmc.NewOverlappedRingBuffer[[]byte](uint32(size)),
		logger: logger,
	}
}

func (h *frameHistory) add(frame []byte) {
	if h == nil {
		return
	}
	cp := append([]byte(nil), frame...)
	overwrites, err := h.buffer.EnqueueM(cp)
	if err != nil {
		h.logger.WithError(err).Debug("Frame history enqueue failed")
		return
	}
	h.overwritten.Add(int64(overwrites))
}

// drain removes and returns the buffered frames, oldest first.
func (h *frameHistory) drain() [][]byte {
	if h == nil {
		return nil
	}
	var out [][]byte
	for !h.buffer.IsEmpty() {
		frame, err := h.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, frame)
	}
	return out
}

func (h *frameHistory) overwrites() int64 {
	if h == nil {
		return 0
	}
	return h.overwritten.Load()
}
