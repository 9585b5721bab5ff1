package persistence

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// FileOption configures SaveFile.
type FileOption func(*fileOptions)

type fileOptions struct {
	bytesPerSec int
}

// WithRateLimit paces snapshot writes to bytesPerSec. 0 means unlimited.
func WithRateLimit(bytesPerSec int) FileOption {
	return func(o *fileOptions) { o.bytesPerSec = bytesPerSec }
}

// throttledWriter paces writes through a token bucket of bytes.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	return &throttledWriter{
		ctx:     ctx,
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}
}

// Write splits p into burst-sized pieces; WaitN rejects requests above the burst.
func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), t.limiter.Burst())
		if err := t.limiter.WaitN(t.ctx, n); err != nil {
			return written, err
		}
		m, err := t.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
