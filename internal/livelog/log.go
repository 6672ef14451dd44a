package livelog

import (
	"context"
	"sync"
)

// defaultBacklog is the per-subscriber pending-frame bound. Append
// blocks a congested subscriber rather than dropping frames for it, so
// this only bounds how far behind a slow reader may fall before it
// stalls the producer.
const defaultBacklog = 256

// Log is a single append-only stream of log data associated with a Store
// branch, shared by any number of subscribers.
type Log struct {
	branch string

	mu       sync.Mutex
	buf      [][]byte
	closed   bool
	closeCh  chan struct{}
	subs     map[*subscription]struct{}
	cancelFn func() (bool, string)

	rebuildTrigger func() error
	triggerOnce    sync.Once
	triggerErr     error
}

type subscription struct {
	ch chan []byte
}

func newLog(branch string, rebuildTrigger func() error) *Log {
	return &Log{
		branch:         branch,
		closeCh:        make(chan struct{}),
		subs:           make(map[*subscription]struct{}),
		rebuildTrigger: rebuildTrigger,
	}
}

// Branch returns the Store branch name this log is associated with.
func (l *Log) Branch() string { return l.branch }

// SetCancelFunc registers the function Cancel invokes. fn returns
// whether the underlying computation was actually cancellable and, if
// not, a user-facing explanation.
func (l *Log) SetCancelFunc(fn func() (bool, string)) {
	l.mu.Lock()
	l.cancelFn = fn
	l.mu.Unlock()
}

// Append records data and delivers it to every current subscriber,
// blocking on any subscriber whose backlog is full rather than dropping
// the frame.
func (l *Log) Append(data []byte) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	frame := append([]byte(nil), data...)
	l.buf = append(l.buf, frame)
	subs := make([]*subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- frame:
		case <-l.closeCh:
			return
		}
	}
}

// close marks the log closed, so later Appends are ignored, and wakes
// any blocked Stream.Next call with end-of-stream. Called by
// Manager.Close.
func (l *Log) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.closeCh)
	l.mu.Unlock()
}

func (l *Log) cancel() (bool, string) {
	l.mu.Lock()
	fn := l.cancelFn
	l.mu.Unlock()
	if fn == nil {
		return false, "this build cannot be cancelled"
	}
	return fn()
}

// Bytes returns every frame appended to l so far, concatenated. Used to
// persist a completed build's full log alongside its result.
func (l *Log) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int
	for _, f := range l.buf {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range l.buf {
		out = append(out, f...)
	}
	return out
}

// ForceRebuild invokes the log's rebuild trigger exactly once, no matter
// how many times it is called; later callers observe the first call's
// error.
func (l *Log) ForceRebuild() error {
	l.triggerOnce.Do(func() {
		if l.rebuildTrigger != nil {
			l.triggerErr = l.rebuildTrigger()
		}
	})
	return l.triggerErr
}

// Subscribe returns a Stream that first replays the data already
// appended to l, then blocks for new data until the log is closed.
func (l *Log) Subscribe() *Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub := &subscription{ch: make(chan []byte, defaultBacklog)}
	prefix := make([][]byte, len(l.buf))
	copy(prefix, l.buf)
	l.subs[sub] = struct{}{}
	return &Stream{log: l, sub: sub, prefix: prefix}
}

func (l *Log) unsubscribe(sub *subscription) {
	l.mu.Lock()
	delete(l.subs, sub)
	l.mu.Unlock()
}

// Stream is one subscriber's view of a Log: the buffered prefix
// followed by a live tail, exposed as a lazy next-pointer per the data
// model's "appendable character stream, lazy next-pointer" shape.
type Stream struct {
	log    *Log
	sub    *subscription
	prefix [][]byte
}

// Next returns the next frame of data. ok is false once the log has
// closed and every buffered and in-flight frame has been delivered;
// err is non-nil only if ctx is cancelled first.
func (s *Stream) Next(ctx context.Context) (data []byte, ok bool, err error) {
	if len(s.prefix) > 0 {
		data = s.prefix[0]
		s.prefix = s.prefix[1:]
		return data, true, nil
	}
	select {
	case data := <-s.sub.ch:
		return data, true, nil
	case <-s.log.closeCh:
		select {
		case data := <-s.sub.ch:
			return data, true, nil
		default:
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close releases the stream's subscription. Callers that stop consuming
// a Stream before it reaches end-of-stream must call this to let the Log
// stop tracking it.
func (s *Stream) Close() {
	s.log.unsubscribe(s.sub)
}
