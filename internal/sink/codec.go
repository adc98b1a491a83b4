package sink

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Encoding selects the payload format of published batches.
type Encoding string

const (
	// EncodingJSON publishes canonical JSON (sorted keys). Default.
	EncodingJSON Encoding = "json"
	// EncodingCBOR publishes canonical CBOR (RFC 8949 core deterministic
	// encoding) for constrained render devices.
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding validates an encoding name. The empty string selects JSON.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(name) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want json or cbor)", name)
	}
}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// batchOp is one entry of the ops array of a published batch.
type batchOp struct {
	Target scheduler.TargetID
	Props  props.Map
}

// encodeBatch renders one batch message in the given encoding. Both
// encodings carry the same document: {"ops":[{"props":{..},"target":N}],"seq":N}.
func encodeBatch(enc Encoding, seq int64, ops []batchOp) ([]byte, error) {
	switch enc {
	case EncodingCBOR:
		wire := make([]any, len(ops))
		for i, op := range ops {
			wire[i] = map[string]any{
				"target": int64(op.Target),
				"props":  op.Props.ToAny(),
			}
		}
		return cborEnc.Marshal(map[string]any{"seq": seq, "ops": wire})
	default:
		wire := make([]any, len(ops))
		for i, op := range ops {
			wire[i] = map[string]any{
				"target": int64(op.Target),
				"props":  op.Props,
			}
		}
		return props.MarshalCanonical(map[string]any{"seq": seq, "ops": wire})
	}
}

// DecodeBatch parses a published batch in either encoding. Receivers and
// tests use it to inspect the wire document.
func DecodeBatch(enc Encoding, payload []byte) (seq int64, ops []Update, err error) {
	var raw struct {
		Seq int64 `json:"seq" cbor:"seq"`
		Ops []struct {
			Target int64          `json:"target" cbor:"target"`
			Props  map[string]any `json:"props" cbor:"props"`
		} `json:"ops" cbor:"ops"`
	}
	switch enc {
	case EncodingCBOR:
		err = cbor.Unmarshal(payload, &raw)
	default:
		err = json.Unmarshal(payload, &raw)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("sink: decode %s batch: %w", enc, err)
	}

	ops = make([]Update, len(raw.Ops))
	for i, op := range raw.Ops {
		m, err := props.MapFromAny(normalizeDecoded(op.Props).(map[string]any))
		if err != nil {
			return 0, nil, fmt.Errorf("sink: ops[%d]: %w", i, err)
		}
		ops[i] = Update{Target: scheduler.TargetID(op.Target), Props: m}
	}
	return raw.Seq, ops, nil
}

// Update is one decoded entry of a batch.
type Update struct {
	Target scheduler.TargetID
	Props  props.Map
}

// normalizeDecoded maps CBOR decoder output onto the shapes FromAny accepts:
// map[interface{}]interface{} becomes map[string]any and integers become
// float64.
func normalizeDecoded(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeDecoded(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeDecoded(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeDecoded(elem)
		}
		return out
	case uint64:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}
