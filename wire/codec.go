package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field tags are stable integers so the on-disk and on-wire records can
// grow new fields without breaking old readers, per the forward/backward
// compatibility requirement on the persistent format.
const (
	tagActionPosition   protowire.Number = 1
	tagActionPromised   protowire.Number = 2
	tagActionPerformed  protowire.Number = 3
	tagActionHasLearned protowire.Number = 4
	tagActionLearned    protowire.Number = 5
	tagActionType       protowire.Number = 6
	tagActionPayload    protowire.Number = 7
	tagActionTruncateTo protowire.Number = 8

	tagMetaStatus   protowire.Number = 1
	tagMetaPromised protowire.Number = 2
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

// EncodeAction serializes an Action as a sequence of tagged fields. Zero
// values are omitted, matching proto3-style optional-field encoding.
func EncodeAction(a Action) []byte {
	var b []byte
	b = appendVarintField(b, tagActionPosition, uint64(a.Position))
	b = appendVarintField(b, tagActionPromised, uint64(a.Promised))
	b = appendVarintField(b, tagActionPerformed, uint64(a.Performed))
	b = appendBoolField(b, tagActionHasLearned, a.HasLearned)
	b = appendBoolField(b, tagActionLearned, a.Learned)
	b = appendVarintField(b, tagActionType, uint64(a.Type))
	b = appendBytesField(b, tagActionPayload, a.Payload)
	b = appendVarintField(b, tagActionTruncateTo, uint64(a.TruncateTo))
	return b
}

// DecodeAction parses bytes produced by EncodeAction. Unknown tags are
// skipped, so new fields added later don't break old decoders.
func DecodeAction(data []byte) (Action, error) {
	var a Action
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Action{}, fmt.Errorf("wire: bad action tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case tagActionPosition:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Position = Position(v)
			data = data[m:]
		case tagActionPromised:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Promised = Proposal(v)
			data = data[m:]
		case tagActionPerformed:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Performed = Proposal(v)
			data = data[m:]
		case tagActionHasLearned:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.HasLearned = v != 0
			data = data[m:]
		case tagActionLearned:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Learned = v != 0
			data = data[m:]
		case tagActionType:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Type = ActionType(v)
			data = data[m:]
		case tagActionPayload:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.Payload = v
			data = data[m:]
		case tagActionTruncateTo:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Action{}, err
			}
			a.TruncateTo = Position(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Action{}, fmt.Errorf("wire: bad action field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return a, nil
}

// EncodeMetadata serializes a Metadata record.
func EncodeMetadata(m Metadata) []byte {
	var b []byte
	b = appendVarintField(b, tagMetaStatus, uint64(m.Status))
	b = appendVarintField(b, tagMetaPromised, uint64(m.Promised))
	return b
}

// DecodeMetadata parses bytes produced by EncodeMetadata.
func DecodeMetadata(data []byte) (Metadata, error) {
	var md Metadata
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Metadata{}, fmt.Errorf("wire: bad metadata tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case tagMetaStatus:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Metadata{}, err
			}
			md.Status = Status(v)
			data = data[m:]
		case tagMetaPromised:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return Metadata{}, err
			}
			md.Promised = Proposal(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Metadata{}, fmt.Errorf("wire: bad metadata field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return md, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: bad bytes field: %w", protowire.ParseError(n))
	}
	// ConsumeBytes aliases the input; copy so callers may mutate freely
	// and so decoded Actions don't keep the whole storage buffer alive.
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}
