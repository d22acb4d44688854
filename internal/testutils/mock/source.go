package mock

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Message is the content of a message stored in a [Source].
type Message struct {
	// Body is the message body without header.
	Body []byte
	// Parts are the transfer encoded contents of parts, keyed by part
	// identifier.
	Parts map[string][]byte
	// Headers and Texts are the header and body of messages embedded
	// at a part.
	Headers map[string][]byte
	Texts   map[string][]byte
}

// Source is an in-memory attachment.Source that counts calls.
type Source struct {
	Messages map[uint32]*Message
	// Err is returned by every method when it is not nil.
	Err error

	mu     sync.Mutex
	calls  map[string]int
	opened []*ReadCloser
}

func NewSource() *Source {
	return &Source{
		Messages: map[uint32]*Message{},
		calls:    map[string]int{},
	}
}

// Calls returns how often method was called.
func (s *Source) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

func (s *Source) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[method]++

	return s.Err
}

func (s *Source) message(uid uint32) (*Message, error) {
	msg, exists := s.Messages[uid]
	if !exists {
		return nil, fmt.Errorf("message %d: %w", uid, ErrNotFound)
	}

	return msg, nil
}

func lookup(m map[string][]byte, uid uint32, part string) ([]byte, error) {
	data, exists := m[part]
	if !exists {
		return nil, fmt.Errorf("message %d part %s: %w", uid, part, ErrNotFound)
	}

	return data, nil
}

func (s *Source) FetchPart(uid uint32, part string) ([]byte, error) {
	if err := s.record("FetchPart"); err != nil {
		return nil, err
	}

	msg, err := s.message(uid)
	if err != nil {
		return nil, err
	}

	return lookup(msg.Parts, uid, part)
}

func (s *Source) FetchPartHeader(uid uint32, part string) ([]byte, error) {
	if err := s.record("FetchPartHeader"); err != nil {
		return nil, err
	}

	msg, err := s.message(uid)
	if err != nil {
		return nil, err
	}

	return lookup(msg.Headers, uid, part)
}

func (s *Source) FetchPartText(uid uint32, part string) ([]byte, error) {
	if err := s.record("FetchPartText"); err != nil {
		return nil, err
	}

	msg, err := s.message(uid)
	if err != nil {
		return nil, err
	}

	return lookup(msg.Texts, uid, part)
}

func (s *Source) FetchBody(uid uint32) ([]byte, error) {
	if err := s.record("FetchBody"); err != nil {
		return nil, err
	}

	msg, err := s.message(uid)
	if err != nil {
		return nil, err
	}

	return msg.Body, nil
}

// OpenPart returns a [ReadCloser] for the part.
func (s *Source) OpenPart(uid uint32, part string) (io.ReadCloser, error) {
	if err := s.record("OpenPart"); err != nil {
		return nil, err
	}

	msg, err := s.message(uid)
	if err != nil {
		return nil, err
	}

	data, err := lookup(msg.Parts, uid, part)
	if err != nil {
		return nil, err
	}

	rc := ReadCloser{Reader: bytes.NewReader(data)}

	s.mu.Lock()
	s.opened = append(s.opened, &rc)
	s.mu.Unlock()

	return &rc, nil
}

// Opened returns the readers returned by OpenPart.
func (s *Source) Opened() []*ReadCloser {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*ReadCloser(nil), s.opened...)
}

// ReadCloser records if it was closed.
type ReadCloser struct {
	io.Reader

	mu     sync.Mutex
	closed bool
}

func (r *ReadCloser) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func (r *ReadCloser) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}
