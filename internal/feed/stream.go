package feed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Decoder turns one websocket payload into a value.
type Decoder[T any] func(data []byte, symbol string, receivedAt time.Time) (T, error)

// Stream is a restartable sequence of decoded messages. The connection is
// opened by the first Next and reopened by the Next following a failure.
// Next must not be called concurrently; Close may be called from any
// goroutine.
type Stream[T any] struct {
	name        string
	symbol      string
	url         string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	decode      Decoder[T]
	now         func() time.Time

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newStream[T any](name, symbol, url string, dialer *websocket.Dialer, readTimeout time.Duration, decode Decoder[T]) *Stream[T] {
	return &Stream[T]{
		name:        name,
		symbol:      symbol,
		url:         url,
		dialer:      dialer,
		readTimeout: readTimeout,
		decode:      decode,
		now:         time.Now,
	}
}

func (s *Stream[T]) Name() string { return s.name }

// Next blocks until the next message arrives, ctx is done or the connection
// fails. Transport and decode failures close the connection and return a
// *FeedError.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return zero, err
	}

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	_, data, err := conn.ReadMessage()
	stop()
	if err != nil {
		s.drop(conn)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if s.isClosed() {
			return zero, ErrClosed
		}
		return zero, s.fail(ErrDisconnected, err)
	}

	v, err := s.decode(data, s.symbol, s.now())
	if err != nil {
		s.drop(conn)
		return zero, s.fail(ErrMalformed, err)
	}
	return v, nil
}

// Close releases the connection. Later calls to Next return ErrClosed.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream[T]) connect(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.fail(ErrDisconnected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, ErrClosed
	}
	s.conn = conn
	return conn, nil
}

func (s *Stream[T]) drop(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Stream[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream[T]) fail(kind, err error) error {
	return &FeedError{Feed: s.name, Symbol: s.symbol, Kind: kind, Err: err}
}
