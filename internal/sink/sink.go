// Package sink applies scheduler batches to a remote presentation tree over
// MQTT. Every flush becomes exactly one published message, so the batching
// of the scheduler carries over to the wire: one round-trip per tick.
//
// Message payload (canonical JSON, or canonical CBOR with EncodingCBOR):
//
//	{"ops":[{"props":{"width":50},"target":1}],"seq":7}
//
// seq increases by one per published batch so the receiver can detect gaps.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// DefaultPublishTimeout bounds how long ApplyBatch waits for the broker.
const DefaultPublishTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge a batch
// in time.
var ErrPublishTimeout = errors.New("sink: publish timed out")

// Publisher is the subset of mqtt.Client used by the sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// RemoteNode is the handle of a view that lives on the remote device.
// It implements scheduler.Handle.
type RemoteNode struct {
	id      scheduler.TargetID
	removed atomic.Bool
}

// NewRemoteNode creates a handle for a remote view.
func NewRemoteNode(id scheduler.TargetID) *RemoteNode {
	return &RemoteNode{id: id}
}

// Valid implements scheduler.Handle.
func (n *RemoteNode) Valid() bool {
	return !n.removed.Load()
}

// Remove marks the remote view as gone.
func (n *RemoteNode) Remove() {
	n.removed.Store(true)
}

// Sink implements scheduler.Applier by publishing each batch to an MQTT
// topic. It keeps a mirror of the state it has published so it can report
// updates that changed nothing.
type Sink struct {
	pub     Publisher
	topic   string
	qos     byte
	enc     Encoding
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	seq    int64
	mirror map[scheduler.TargetID]props.Map
}

// Option configures a Sink.
type Option func(*Sink)

// WithQoS sets the MQTT quality of service. Default: 0.
func WithQoS(qos byte) Option {
	return func(s *Sink) {
		s.qos = qos
	}
}

// WithEncoding sets the payload encoding. Default: EncodingJSON.
func WithEncoding(enc Encoding) Option {
	return func(s *Sink) {
		s.enc = enc
	}
}

// WithPublishTimeout sets how long to wait for the broker per batch.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = l
	}
}

// New creates a sink publishing to topic.
func New(pub Publisher, topic string, opts ...Option) (*Sink, error) {
	if pub == nil {
		return nil, errors.New("sink: publisher is required")
	}
	if topic == "" {
		return nil, errors.New("sink: topic is required")
	}
	s := &Sink{
		pub:     pub,
		topic:   topic,
		enc:     EncodingJSON,
		timeout: DefaultPublishTimeout,
		logger:  slog.Default(),
		mirror:  make(map[scheduler.TargetID]props.Map),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.qos > 2 {
		return nil, fmt.Errorf("sink: invalid qos %d", s.qos)
	}
	enc, err := ParseEncoding(string(s.enc))
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	s.enc = enc
	return s, nil
}

// ApplyBatch implements scheduler.Applier. Operations whose remote node was
// removed are left out of the message and reported as skipped. The mirror is only updated once the
// broker accepted the batch.
func (s *Sink) ApplyBatch(ops []scheduler.Operation) (scheduler.ApplyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report scheduler.ApplyReport
	next := make(map[scheduler.TargetID]props.Map)
	wire := make([]batchOp, 0, len(ops))

	for _, op := range ops {
		if n, ok := op.Handle.(*RemoteNode); ok && !n.Valid() {
			if !slices.Contains(report.Skipped, op.Target) {
				report.Skipped = append(report.Skipped, op.Target)
			}
			continue
		}
		current, ok := next[op.Target]
		if !ok {
			current = s.mirror[op.Target]
		}
		if !op.Props.IsEmpty() && current.Contains(op.Props) {
			report.Unchanged = append(report.Unchanged, op.Target)
		}
		next[op.Target] = current.Merge(op.Props)
		wire = append(wire, batchOp{Target: op.Target, Props: op.Props})
	}

	if len(wire) == 0 {
		return report, nil
	}

	payload, err := encodeBatch(s.enc, s.seq+1, wire)
	if err != nil {
		return scheduler.ApplyReport{}, fmt.Errorf("sink: encode batch: %w", err)
	}

	token := s.pub.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return scheduler.ApplyReport{}, ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return scheduler.ApplyReport{}, fmt.Errorf("sink: publish to %s: %w", s.topic, err)
	}

	s.seq++
	for id, m := range next {
		s.mirror[id] = m
	}
	s.logger.Debug("batch published", "topic", s.topic, "seq", s.seq, "operations", len(wire), "encoding", s.enc)
	return report, nil
}

// Forget drops the mirrored state of a target, e.g. after it was
// unregistered.
func (s *Sink) Forget(id scheduler.TargetID) {
	s.mu.Lock()
	delete(s.mirror, id)
	s.mu.Unlock()
}

// Seq returns the sequence number of the last published batch.
func (s *Sink) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
