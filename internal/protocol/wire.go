package protocol

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const versionField protowire.Number = 1

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// decodeFields walks every field in b, verifies the version field and hands
// the rest to fn. fn returns the number of bytes consumed, or -1 to have
// the field skipped.
func decodeFields(b []byte, fn fieldFunc) error {
	sawVersion := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed("tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		if num == versionField {
			if typ != protowire.VarintType {
				return malformed("version has wire type %d", typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return malformed("version: %v", protowire.ParseError(n))
			}
			if v != Version {
				return ErrUnsupportedVersion
			}
			sawVersion = true
			b = b[n:]
			continue
		}

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed("field %d: %v", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	if !sawVersion {
		return malformed("missing version")
	}
	return nil
}

func appendVersion(b []byte) []byte {
	b = protowire.AppendTag(b, versionField, protowire.VarintType)
	return protowire.AppendVarint(b, Version)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, malformed("field %d: wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, malformed("field %d: wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, malformed("field %d: wire type %d, want varint", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeSint(num protowire.Number, typ protowire.Type, b []byte) (int64, int, error) {
	v, n, err := consumeVarint(num, typ, b)
	return protowire.DecodeZigZag(v), n, err
}

func consumeDouble(num protowire.Number, typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, malformed("field %d: wire type %d, want fixed64", num, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	f := math.Float64frombits(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, 0, malformed("field %d: non-finite value", num)
	}
	return f, n, nil
}
