package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"routecodex-go/internal/apperrors"
)

type readResult struct {
	n   int
	err error
}

// waitFirstChunk blocks until the upstream stream produces its first
// bytes, fails, or the pre-stream window elapses. A failure before the
// first byte is returned as a taxonomy error so the gateway can answer
// with a plain JSON body instead of opening a doomed SSE stream. On
// window expiry the pending read is handed over to the returned stream
// and SSE starts immediately.
func waitFirstChunk(ctx context.Context, rc io.ReadCloser, window time.Duration) (io.ReadCloser, error) {
	buf := make([]byte, 4096)
	ch := make(chan readResult, 1)
	go func() {
		n, err := rc.Read(buf)
		ch <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.n == 0 && res.err != nil {
			_ = rc.Close()
			if errors.Is(res.err, io.EOF) {
				return nil, apperrors.NewUpstreamError("upstream closed the stream before the first chunk")
			}
			return nil, apperrors.MapNetworkError(res.err)
		}
		return &firstChunkStream{pending: buf[:res.n], errOnce: res.err, rc: rc}, nil
	case <-timer.C:
		return &firstChunkStream{await: ch, buf: buf, rc: rc}, nil
	case <-ctx.Done():
		_ = rc.Close() // unblocks the in-flight read; the goroutine exits via the buffered channel
		return nil, apperrors.MapNetworkError(ctx.Err())
	}
}

// firstChunkStream replays bytes captured by waitFirstChunk before
// delegating to the upstream body. When the pre-stream window expired
// with a read still in flight, the first Read waits for that result.
type firstChunkStream struct {
	await   <-chan readResult
	buf     []byte
	pending []byte
	errOnce error
	rc      io.ReadCloser
}

func (s *firstChunkStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 && s.await != nil {
		res := <-s.await
		s.await = nil
		if res.n > 0 {
			s.pending = s.buf[:res.n]
		}
		s.errOnce = res.err
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.errOnce != nil {
		err := s.errOnce
		s.errOnce = nil
		return 0, err
	}
	return s.rc.Read(p)
}

func (s *firstChunkStream) Close() error { return s.rc.Close() }
