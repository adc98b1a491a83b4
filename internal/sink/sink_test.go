package sink

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// fakeToken is a completed (or never completing) mqtt.Token.
type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages []published
	next     *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	tok := p.next
	p.next = nil
	if tok == nil {
		tok = &fakeToken{}
	}
	if tok.err == nil && !tok.pending {
		p.messages = append(p.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	}
	return tok
}

func newSink(t *testing.T, pub Publisher, opts ...Option) *Sink {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s, err := New(pub, "propsync/batches", opts...)
	require.NoError(t, err)
	return s
}

func op(n *RemoteNode, m props.Map) scheduler.Operation {
	return scheduler.Operation{Target: n.id, Handle: n, Props: m}
}

func TestSink_OneMessagePerBatch(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub, WithQoS(1))

	a, b := NewRemoteNode(1), NewRemoteNode(2)
	_, err := s.ApplyBatch([]scheduler.Operation{
		op(a, props.New(props.P("width", props.Number(0)))),
		op(b, props.New(props.P("color", props.String("#ff0000")))),
		op(a, props.New(props.P("width", props.Number(50)))),
	})
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "propsync/batches", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)
	assert.JSONEq(t, `{"seq":1,"ops":[
		{"target":1,"props":{"width":0}},
		{"target":2,"props":{"color":"#ff0000"}},
		{"target":1,"props":{"width":50}}
	]}`, string(msg.payload))
	assert.Equal(t, int64(1), s.Seq())
}

func TestSink_PayloadIsCanonical(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub)

	n := NewRemoteNode(3)
	_, err := s.ApplyBatch([]scheduler.Operation{
		op(n, props.New(props.P("z", props.Number(1)), props.P("a", props.Number(2)))),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ops":[{"props":{"a":2,"z":1},"target":3}],"seq":1}`, string(pub.messages[0].payload))
}

func TestSink_ReportsUnchanged(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub)
	n := NewRemoteNode(1)

	report, err := s.ApplyBatch([]scheduler.Operation{op(n, props.New(props.P("x", props.Number(1))))})
	require.NoError(t, err)
	assert.Empty(t, report.Unchanged)

	report, err = s.ApplyBatch([]scheduler.Operation{op(n, props.New(props.P("x", props.Number(1))))})
	require.NoError(t, err)
	assert.Equal(t, []scheduler.TargetID{1}, report.Unchanged)

	s.Forget(1)
	report, err = s.ApplyBatch([]scheduler.Operation{op(n, props.New(props.P("x", props.Number(1))))})
	require.NoError(t, err)
	assert.Empty(t, report.Unchanged)
}

func TestSink_RemovedNodesLeftOut(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub)

	gone := NewRemoteNode(1)
	gone.Remove()
	report, err := s.ApplyBatch([]scheduler.Operation{op(gone, props.New(props.P("x", props.Number(1))))})
	require.NoError(t, err)
	assert.Equal(t, []scheduler.TargetID{1}, report.Skipped)
	assert.Empty(t, pub.messages, "nothing to publish")
	assert.Equal(t, int64(0), s.Seq())
}

func TestSink_PublishErrorKeepsMirror(t *testing.T) {
	pub := &fakePublisher{next: &fakeToken{err: errors.New("broker unavailable")}}
	s := newSink(t, pub)
	n := NewRemoteNode(1)

	_, err := s.ApplyBatch([]scheduler.Operation{op(n, props.New(props.P("x", props.Number(1))))})
	assert.ErrorContains(t, err, "broker unavailable")
	assert.Equal(t, int64(0), s.Seq())

	report, err := s.ApplyBatch([]scheduler.Operation{op(n, props.New(props.P("x", props.Number(1))))})
	require.NoError(t, err)
	assert.Empty(t, report.Unchanged, "failed batch never reached the mirror")
}

func TestSink_PublishTimeout(t *testing.T) {
	pub := &fakePublisher{next: &fakeToken{pending: true}}
	s := newSink(t, pub, WithPublishTimeout(time.Millisecond))

	_, err := s.ApplyBatch([]scheduler.Operation{op(NewRemoteNode(1), props.New(props.P("x", props.Number(1))))})
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "topic")
	assert.Error(t, err)

	_, err = New(&fakePublisher{}, "")
	assert.Error(t, err)

	_, err = New(&fakePublisher{}, "topic", WithQoS(3))
	assert.Error(t, err)
}

func TestSink_DrivenByScheduler(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub)

	sched, err := scheduler.New(s, nil)
	require.NoError(t, err)
	require.NoError(t, sched.Register(1, NewRemoteNode(1)))
	require.NoError(t, sched.Register(2, NewRemoteNode(2)))

	sched.AdvanceFrame(scheduler.DefaultFrameInterval)
	for i := 0; i < 10; i++ {
		sched.Enqueue(1, props.New(props.P("x", props.Number(float64(i)))))
		sched.Enqueue(2, props.New(props.P("y", props.Number(float64(i)))))
	}
	sched.Drain()

	require.Len(t, pub.messages, 1)
	var decoded struct {
		Seq int `json:"seq"`
		Ops []struct {
			Target int `json:"target"`
		} `json:"ops"`
	}
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &decoded))
	assert.Equal(t, 1, decoded.Seq)
	assert.Len(t, decoded.Ops, 20)
}

func TestSink_CBOREncoding(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(t, pub, WithEncoding(EncodingCBOR))

	a := NewRemoteNode(1)
	_, err := s.ApplyBatch([]scheduler.Operation{
		op(a, props.New(
			props.P("width", props.Number(50)),
			props.P("transform", props.Transform{props.Op("rotate", props.String("45deg"))}),
		)),
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.NotEqual(t, byte('{'), pub.messages[0].payload[0], "payload is binary, not JSON")

	seq, ops, err := DecodeBatch(EncodingCBOR, pub.messages[0].payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	require.Len(t, ops, 1)
	assert.Equal(t, scheduler.TargetID(1), ops[0].Target)
	assert.True(t, ops[0].Props.Equal(props.New(
		props.P("width", props.Number(50)),
		props.P("transform", props.Transform{props.Op("rotate", props.String("45deg"))}),
	)), "decoded %s", ops[0].Props)
}

func TestSink_CBORIsDeterministic(t *testing.T) {
	encode := func(m props.Map) []byte {
		pub := &fakePublisher{}
		s := newSink(t, pub, WithEncoding(EncodingCBOR))
		_, err := s.ApplyBatch([]scheduler.Operation{op(NewRemoteNode(1), m)})
		require.NoError(t, err)
		return pub.messages[0].payload
	}

	first := encode(props.New(props.P("z", props.Number(1)), props.P("a", props.Number(2))))
	second := encode(props.New(props.P("a", props.Number(2)), props.P("z", props.Number(1))))
	assert.Equal(t, first, second)
}

func TestDecodeBatch_JSON(t *testing.T) {
	seq, ops, err := DecodeBatch(EncodingJSON, []byte(`{"ops":[{"props":{"a":2},"target":3}],"seq":4}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
	require.Len(t, ops, 1)
	assert.Equal(t, scheduler.TargetID(3), ops[0].Target)
	assert.True(t, ops[0].Props.Equal(props.New(props.P("a", props.Number(2)))))

	_, _, err = DecodeBatch(EncodingJSON, []byte(`not json`))
	assert.Error(t, err)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, enc)

	enc, err = ParseEncoding("cbor")
	require.NoError(t, err)
	assert.Equal(t, EncodingCBOR, enc)

	_, err = ParseEncoding("msgpack")
	assert.ErrorContains(t, err, "msgpack")

	_, err = New(&fakePublisher{}, "topic", WithEncoding("msgpack"))
	assert.Error(t, err)
}
