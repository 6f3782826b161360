// Package mailbox hosts the broker-local side of the data plane: named
// in-process channels through which upstream stages deliver data blocks to
// the reduce stage.
package mailbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prismdb/prism/pkg/block"
	"github.com/prismdb/prism/pkg/log"
	"github.com/prismdb/prism/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrTimeout is returned when the receive deadline expires before a
	// block arrives
	ErrTimeout = errors.New("mailbox: timed out waiting for block")

	// ErrClosed is returned when the mailbox is torn down mid-stream
	ErrClosed = errors.New("mailbox: closed")
)

// defaultCapacity bounds a mailbox channel; senders block past this
const defaultCapacity = 64

// ID names the mailbox one worker receives on for one request
func ID(requestID int64, stageID, workerID int) string {
	return fmt.Sprintf("%d|%d|%d", requestID, stageID, workerID)
}

// ExecutionContext carries everything a receive operator is bound to
type ExecutionContext struct {
	RequestID    int64
	Deadline     time.Time
	StageID      int
	Worker       types.WorkerMetadata
	QueryOptions map[string]string

	// TraceID is the parent tracing context of the submitting request
	TraceID string
}

// Service is the broker-local mailbox registry. One instance lives for the
// dispatcher's lifetime; mailboxes are created on first send or open and torn down
// when their operator closes or the service shuts down.
type Service struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
	shutdown  bool
	logger    zerolog.Logger
}

type mailbox struct {
	blocks chan *block.DataBlock
	done   chan struct{}
	once   sync.Once
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

// NewService creates the mailbox service
func NewService() *Service {
	return &Service{
		mailboxes: make(map[string]*mailbox),
		logger:    log.WithComponent("mailbox"),
	}
}

func (s *Service) getOrCreate(id string) (*mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrClosed
	}
	mb, ok := s.mailboxes[id]
	if !ok {
		mb = &mailbox{
			blocks: make(chan *block.DataBlock, defaultCapacity),
			done:   make(chan struct{}),
		}
		s.mailboxes[id] = mb
	}
	return mb, nil
}

// Send delivers a block to the named mailbox, blocking until there is
// channel capacity, the mailbox closes, or the deadline passes
func (s *Service) Send(id string, b *block.DataBlock, deadline time.Time) error {
	mb, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case mb.blocks <- b:
		return nil
	case <-mb.done:
		return ErrClosed
	case <-timer.C:
		return ErrTimeout
	}
}

// OpenReceive opens the receive operator for the worker named in the
// execution context
func (s *Service) OpenReceive(ec ExecutionContext) (*ReceiveOperator, error) {
	id := ID(ec.RequestID, ec.StageID, ec.Worker.WorkerID)
	mb, err := s.getOrCreate(id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Int64("request_id", ec.RequestID).
		Str("mailbox", id).
		Str("trace_id", ec.TraceID).
		Msg("receive operator opened")
	return &ReceiveOperator{service: s, id: id, mb: mb, deadline: ec.Deadline}, nil
}

// Shutdown tears down every mailbox; pending and future receives fail with
// ErrClosed
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	for _, mb := range s.mailboxes {
		mb.close()
	}
	s.mailboxes = map[string]*mailbox{}
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.mailboxes[id]; ok {
		mb.close()
		delete(s.mailboxes, id)
	}
}

// ReceiveOperator pulls typed blocks from one mailbox until end-of-stream
type ReceiveOperator struct {
	service  *Service
	id       string
	mb       *mailbox
	deadline time.Time
}

// NextBlock returns the next block, blocking up to the remaining deadline
func (o *ReceiveOperator) NextBlock() (*block.DataBlock, error) {
	remaining := time.Until(o.deadline)
	if remaining <= 0 {
		return nil, ErrTimeout
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case b := <-o.mb.blocks:
		return b, nil
	case <-o.mb.done:
		// Drain anything buffered ahead of the close
		select {
		case b := <-o.mb.blocks:
			return b, nil
		default:
			return nil, ErrClosed
		}
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close releases the operator's mailbox
func (o *ReceiveOperator) Close() {
	o.service.remove(o.id)
}
