package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	// RecordDelimiter terminates a top-level record.
	RecordDelimiter byte = '#'
	// ElementDelimiter separates elements inside an array payload.
	ElementDelimiter byte = '$'

	tagSeparator byte = '|'
	hexPrefix         = "0x"
)

// Wire tags.
const (
	TagString  = "s"
	TagBool    = "b"
	TagInt32   = "Int32"
	TagInt64   = "Int64"
	TagDouble  = "Double"
	TagBinary  = "Binary"
	TagArray   = "a"
	TagKeyword = "Keyword"
)

// Codec converts Values to and from the wire grammar. A Codec is immutable
// and safe for concurrent use.
type Codec struct {
	charset encoding.Encoding
}

// Option configures a Codec.
type Option func(*Codec)

// WithCharset sets the byte encoding applied to string payloads before they
// are hex encoded. Nil keeps UTF-8.
func WithCharset(enc encoding.Encoding) Option {
	return func(c *Codec) {
		c.charset = enc
	}
}

// New constructs a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default is the UTF-8 codec.
var Default = New()

// CharsetByName resolves an IANA charset name. UTF-8 and the empty name
// resolve to nil, meaning strings are passed through unchanged.
func CharsetByName(name string) (encoding.Encoding, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || trimmed == "utf-8" || trimmed == "utf8" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q is not supported", name)
	}
	return enc, nil
}

// Encode renders v as a single top-level record including the trailing
// record delimiter. Characters the configured charset cannot represent are
// replaced. Binary payloads are written raw, so callers that accept Binary
// from outside should run CheckEncodable first.
func (c *Codec) Encode(v Value) []byte {
	return c.appendValue(nil, v, RecordDelimiter)
}

// CheckEncodable reports a Binary value, at any depth, whose payload holds
// a record or element delimiter. Such a value encodes to a record that
// cannot be decoded.
func CheckEncodable(v Value) error {
	switch v.kind {
	case KindBinary:
		if i := bytes.IndexAny(v.bin, string([]byte{RecordDelimiter, ElementDelimiter})); i >= 0 {
			return fmt.Errorf("%w: %q at offset %d", ErrBinaryDelimiter, v.bin[i], i)
		}
	case KindArray:
		for i, item := range v.items {
			if err := CheckEncodable(item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}
	return nil
}

// AppendEncode appends the encoding of v terminated by delim to dst.
func (c *Codec) AppendEncode(dst []byte, v Value, delim byte) []byte {
	return c.appendValue(dst, v, delim)
}

func (c *Codec) appendValue(dst []byte, v Value, delim byte) []byte {
	switch v.kind {
	case KindString:
		dst = append(dst, TagString...)
		dst = append(dst, tagSeparator)
		dst = appendHex(dst, c.encodeString(v.str))
	case KindBool:
		dst = append(dst, TagBool...)
		dst = append(dst, tagSeparator)
		if v.num != 0 {
			dst = append(dst, '1')
		} else {
			dst = append(dst, '0')
		}
	case KindInt32:
		dst = append(dst, TagInt32...)
		dst = append(dst, tagSeparator)
		dst = strconv.AppendInt(dst, v.num, 10)
	case KindInt64:
		dst = append(dst, TagInt64...)
		dst = append(dst, tagSeparator)
		dst = strconv.AppendInt(dst, v.num, 10)
	case KindDouble:
		dst = append(dst, TagDouble...)
		dst = append(dst, tagSeparator)
		dst = strconv.AppendFloat(dst, v.float, 'g', -1, 64)
	case KindBinary:
		dst = append(dst, TagBinary...)
		dst = append(dst, tagSeparator)
		dst = append(dst, v.bin...)
	case KindArray:
		var inner []byte
		for _, item := range v.items {
			inner = c.appendValue(inner, item, ElementDelimiter)
		}
		if len(inner) > 0 {
			inner = inner[:len(inner)-1]
		}
		dst = append(dst, TagArray...)
		dst = append(dst, tagSeparator)
		dst = appendHex(dst, inner)
	default:
		dst = append(dst, TagKeyword...)
		dst = append(dst, tagSeparator)
	}
	return append(dst, delim)
}

func (c *Codec) encodeString(s string) []byte {
	if c.charset == nil {
		return []byte(s)
	}
	out, err := encoding.ReplaceUnsupported(c.charset.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func (c *Codec) decodeString(b []byte) (string, error) {
	if c.charset == nil {
		return string(b), nil
	}
	out, err := c.charset.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decode parses exactly one record. A single trailing record delimiter is
// tolerated.
func (c *Codec) Decode(record []byte) (Value, error) {
	seg := bytes.TrimSuffix(record, []byte{RecordDelimiter})
	if bytes.IndexByte(seg, RecordDelimiter) >= 0 {
		return Value{}, newDecodeError(seg, "multiple records in input", nil)
	}
	return c.decodeSegment(seg)
}

// DecodeAll splits frame into records and decodes each one. Records that fail
// to decode are skipped; their errors are joined into the returned error while
// the successfully decoded values are still returned in order.
func (c *Codec) DecodeAll(frame []byte) ([]Value, error) {
	segments := SplitRecords(frame)
	values := make([]Value, 0, len(segments))
	var errs []error
	for _, seg := range segments {
		v, err := c.decodeSegment(seg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values = append(values, v)
	}
	return values, errors.Join(errs...)
}

// SplitRecords strips any run of trailing record delimiters and returns the
// non-empty records of frame in order. The returned slices alias frame.
func SplitRecords(frame []byte) [][]byte {
	trimmed := bytes.TrimRight(frame, string(RecordDelimiter))
	if len(trimmed) == 0 {
		return nil
	}
	parts := bytes.Split(trimmed, []byte{RecordDelimiter})
	out := parts[:0]
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Codec) decodeSegment(seg []byte) (Value, error) {
	idx := bytes.IndexByte(seg, tagSeparator)
	if idx < 0 {
		return Value{}, newDecodeError(seg, "missing tag separator", nil)
	}
	tag := string(seg[:idx])
	payload := seg[idx+1:]

	switch tag {
	case TagString:
		raw, err := decodeHex(payload)
		if err != nil {
			return Value{}, newDecodeError(seg, "invalid string payload", err)
		}
		s, err := c.decodeString(raw)
		if err != nil {
			return Value{}, newDecodeError(seg, "invalid string charset", err)
		}
		return String(s), nil
	case TagBool:
		text := strings.TrimSpace(string(payload))
		return Bool(text == "1" || strings.EqualFold(text, "true")), nil
	case TagInt32:
		n, err := strconv.ParseInt(strings.TrimSpace(string(payload)), 10, 32)
		if err != nil {
			return Value{}, newDecodeError(seg, "invalid Int32 payload", err)
		}
		return Int32(int32(n)), nil
	case TagInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(string(payload)), 10, 64)
		if err != nil {
			return Value{}, newDecodeError(seg, "invalid Int64 payload", err)
		}
		return Int64(n), nil
	case TagDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			return Value{}, newDecodeError(seg, "invalid Double payload", err)
		}
		return Double(f), nil
	case TagBinary:
		return Binary(payload), nil
	case TagArray:
		return c.decodeArray(seg, payload)
	case TagKeyword:
		return Null(), nil
	default:
		return Value{}, newDecodeError(seg, fmt.Sprintf("unknown tag %q", tag), ErrUnknownTag)
	}
}

func (c *Codec) decodeArray(seg, payload []byte) (Value, error) {
	inner, err := decodeHex(payload)
	if err != nil {
		return Value{}, newDecodeError(seg, "invalid array payload", err)
	}
	if len(inner) == 0 {
		return Array(), nil
	}
	parts := bytes.Split(inner, []byte{ElementDelimiter})
	items := make([]Value, 0, len(parts))
	for i, part := range parts {
		item, err := c.decodeSegment(part)
		if err != nil {
			return Value{}, newDecodeError(seg, fmt.Sprintf("array element %d", i), err)
		}
		items = append(items, item)
	}
	return Value{kind: KindArray, items: items}, nil
}

func appendHex(dst, raw []byte) []byte {
	dst = append(dst, hexPrefix...)
	return hex.AppendEncode(dst, raw)
}

// decodeHex accepts a 0x or 0X prefixed hex string. An empty payload decodes
// to no bytes.
func decodeHex(payload []byte) ([]byte, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, nil
	}
	if len(text) < 2 || !strings.EqualFold(text[:2], hexPrefix) {
		return nil, ErrMissingHexPrefix
	}
	return hex.DecodeString(text[2:])
}
