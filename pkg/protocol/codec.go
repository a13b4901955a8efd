package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when an envelope cannot be decoded.
var ErrMalformed = errors.New("malformed envelope")

// Envelope field numbers. Keep stable: workers in other processes decode them.
const (
	fieldKind       protowire.Number = 1
	fieldPipeline   protowire.Number = 2
	fieldContext    protowire.Number = 3
	fieldEpoch      protowire.Number = 4
	fieldURL        protowire.Number = 5
	fieldTitle      protowire.Number = 6
	fieldReason     protowire.Number = 7
	fieldPayload    protowire.Number = 8
	fieldPeer       protowire.Number = 9
	fieldTargetKind protowire.Number = 10
	fieldTargetCtx  protowire.Number = 11
	fieldReplace    protowire.Number = 12
	fieldRect       protowire.Number = 13
	fieldInput      protowire.Number = 14
	fieldRequestID  protowire.Number = 15
	fieldParent     protowire.Number = 16
)

// Nested message field numbers.
const (
	rectX protowire.Number = 1
	rectY protowire.Number = 2
	rectW protowire.Number = 3
	rectH protowire.Number = 4

	inputKind      protowire.Number = 1
	inputX         protowire.Number = 2
	inputY         protowire.Number = 3
	inputKey       protowire.Number = 4
	inputModifiers protowire.Number = 5
	inputContext   protowire.Number = 6
	inputPipeline  protowire.Number = 7
)

// Marshal encodes env using the protobuf wire format. Zero-valued fields are
// omitted.
func Marshal(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("marshal: %w", ErrMalformed)
	}
	var b []byte
	b = appendVarint(b, fieldKind, uint64(env.Kind))
	b = appendString(b, fieldRequestID, env.RequestID)
	b = appendVarint(b, fieldPipeline, uint64(env.Pipeline))
	b = appendVarint(b, fieldContext, uint64(env.Context))
	b = appendVarint(b, fieldParent, uint64(env.Parent))
	b = appendVarint(b, fieldPeer, uint64(env.Peer))
	b = appendVarint(b, fieldEpoch, env.Epoch)
	b = appendString(b, fieldURL, env.URL)
	b = appendString(b, fieldTitle, env.Title)
	b = appendString(b, fieldReason, env.Reason)
	if len(env.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Payload)
	}
	b = appendVarint(b, fieldTargetKind, uint64(env.Target.Kind))
	b = appendVarint(b, fieldTargetCtx, uint64(env.Target.Context))
	if env.Replace {
		b = appendVarint(b, fieldReplace, 1)
	}
	if env.Rect != (Rect{}) {
		b = protowire.AppendTag(b, fieldRect, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRect(env.Rect))
	}
	if env.Input != nil {
		b = protowire.AppendTag(b, fieldInput, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalInput(env.Input))
	}
	return b, nil
}

// Unmarshal decodes an envelope. Unknown fields are skipped so that older
// workers tolerate newer orchestrators.
func Unmarshal(data []byte) (*Envelope, error) {
	env := &Envelope{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldKind:
			env.Kind = Kind(v)
		case fieldRequestID:
			env.RequestID = string(raw)
		case fieldPipeline:
			env.Pipeline = PipelineID(v)
		case fieldContext:
			env.Context = BrowsingContextID(v)
		case fieldParent:
			env.Parent = BrowsingContextID(v)
		case fieldPeer:
			env.Peer = PipelineID(v)
		case fieldEpoch:
			env.Epoch = v
		case fieldURL:
			env.URL = string(raw)
		case fieldTitle:
			env.Title = string(raw)
		case fieldReason:
			env.Reason = string(raw)
		case fieldPayload:
			env.Payload = append([]byte(nil), raw...)
		case fieldTargetKind:
			env.Target.Kind = TargetKind(v)
		case fieldTargetCtx:
			env.Target.Context = BrowsingContextID(v)
		case fieldReplace:
			env.Replace = v != 0
		case fieldRect:
			rect, err := unmarshalRect(raw)
			if err != nil {
				return err
			}
			env.Rect = rect
		case fieldInput:
			in, err := unmarshalInput(raw)
			if err != nil {
				return err
			}
			env.Input = in
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// zigzag keeps negative coordinates compact.
func appendSigned(b []byte, num protowire.Number, v int) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(int64(v)))
}

func marshalRect(r Rect) []byte {
	var b []byte
	b = appendSigned(b, rectX, r.X)
	b = appendSigned(b, rectY, r.Y)
	b = appendSigned(b, rectW, r.Width)
	b = appendSigned(b, rectH, r.Height)
	return b
}

func unmarshalRect(data []byte) (Rect, error) {
	var r Rect
	err := walk(data, func(num protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
		n := int(protowire.DecodeZigZag(v))
		switch num {
		case rectX:
			r.X = n
		case rectY:
			r.Y = n
		case rectW:
			r.Width = n
		case rectH:
			r.Height = n
		}
		return nil
	})
	return r, err
}

func marshalInput(in *InputEvent) []byte {
	var b []byte
	b = appendVarint(b, inputKind, uint64(in.Kind))
	b = appendSigned(b, inputX, in.Point.X)
	b = appendSigned(b, inputY, in.Point.Y)
	b = appendString(b, inputKey, in.Key)
	b = appendVarint(b, inputModifiers, uint64(in.Modifiers))
	b = appendVarint(b, inputContext, uint64(in.Context))
	b = appendVarint(b, inputPipeline, uint64(in.Pipeline))
	return b
}

func unmarshalInput(data []byte) (*InputEvent, error) {
	in := &InputEvent{}
	err := walk(data, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case inputKind:
			in.Kind = InputKind(v)
		case inputX:
			in.Point.X = int(protowire.DecodeZigZag(v))
		case inputY:
			in.Point.Y = int(protowire.DecodeZigZag(v))
		case inputKey:
			in.Key = string(raw)
		case inputModifiers:
			in.Modifiers = uint32(v)
		case inputContext:
			in.Context = BrowsingContextID(v)
		case inputPipeline:
			in.Pipeline = PipelineID(v)
		}
		return nil
	})
	return in, err
}

// walk iterates over the top-level fields of a wire-format message. Varint
// fields are passed as v, length-delimited fields as raw; other wire types are
// skipped.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, typ, 0, raw); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return nil
}
