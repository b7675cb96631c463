// Package bencode implements the subset of the bencode format used by
// BEP 3 tracker responses: integers, byte strings, lists and dictionaries.
//
// Byte strings are carried as Go strings so that arbitrary bytes (raw info
// hashes used as dictionary keys) survive unchanged.
package bencode

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Marshal encodes v into bencode.
// Supported types: all signed and unsigned integer kinds, string, []byte,
// []any, map[string]any and map[string]int64.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the bencode representation of v to w.
func Encode(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("cannot encode nil value")
	case string:
		encodeString(buf, val)
	case []byte:
		encodeString(buf, string(val))
	case int:
		encodeInt(buf, int64(val))
	case int8:
		encodeInt(buf, int64(val))
	case int16:
		encodeInt(buf, int64(val))
	case int32:
		encodeInt(buf, int64(val))
	case int64:
		encodeInt(buf, val)
	case uint:
		encodeUint(buf, uint64(val))
	case uint8:
		encodeUint(buf, uint64(val))
	case uint16:
		encodeUint(buf, uint64(val))
	case uint32:
		encodeUint(buf, uint64(val))
	case uint64:
		encodeUint(buf, val)
	case []any:
		buf.WriteByte('l')
		for _, item := range val {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case map[string]any:
		return encodeDict(buf, val)
	case map[string]int64:
		dict := make(map[string]any, len(val))
		for k, n := range val {
			dict[k] = n
		}
		return encodeDict(buf, dict)
	default:
		return fmt.Errorf("unsupported type for bencode: %T", v)
	}
	return nil
}

// encodeDict writes keys in raw byte order regardless of how the map was built.
func encodeDict(buf *bytes.Buffer, dict map[string]any) error {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('d')
	for _, k := range keys {
		encodeString(buf, k)
		if err := encodeValue(buf, dict[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
}

func encodeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
}

func encodeUint(buf *bytes.Buffer, n uint64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatUint(n, 10))
	buf.WriteByte('e')
}
