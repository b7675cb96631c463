package bencode

import (
	"fmt"
	"strconv"
)

// DecodeError reports malformed bencode input and where it was found.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

// Unmarshal decodes data into int64, string, []any or map[string]any values.
// Trailing bytes after the first complete value are an error.
func Unmarshal(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Offset: 0, Msg: "empty input"}
	}
	v, pos, err := decodeValue(data, 0)
	if err != nil {
		return nil, err
	}
	if pos != len(data) {
		return nil, &DecodeError{Offset: pos, Msg: fmt.Sprintf("%d trailing bytes", len(data)-pos)}
	}
	return v, nil
}

func decodeValue(data []byte, pos int) (any, int, error) {
	if pos >= len(data) {
		return nil, pos, &DecodeError{Offset: pos, Msg: "unexpected end of input"}
	}

	switch c := data[pos]; {
	case c == 'i':
		return decodeInt(data, pos)

	case c == 'l':
		list := []any{}
		pos++
		for pos < len(data) && data[pos] != 'e' {
			item, next, err := decodeValue(data, pos)
			if err != nil {
				return nil, pos, err
			}
			list = append(list, item)
			pos = next
		}
		if pos >= len(data) {
			return nil, pos, &DecodeError{Offset: pos, Msg: "unterminated list"}
		}
		return list, pos + 1, nil

	case c == 'd':
		dict := make(map[string]any)
		pos++
		prev := ""
		for pos < len(data) && data[pos] != 'e' {
			keyPos := pos
			key, next, err := decodeString(data, pos)
			if err != nil {
				return nil, pos, err
			}
			if len(dict) > 0 && key <= prev {
				return nil, keyPos, &DecodeError{Offset: keyPos, Msg: "dictionary keys not sorted"}
			}
			prev = key
			value, next, err := decodeValue(data, next)
			if err != nil {
				return nil, next, err
			}
			dict[key] = value
			pos = next
		}
		if pos >= len(data) {
			return nil, pos, &DecodeError{Offset: pos, Msg: "unterminated dictionary"}
		}
		return dict, pos + 1, nil

	case c >= '0' && c <= '9':
		return decodeString(data, pos)

	default:
		return nil, pos, &DecodeError{Offset: pos, Msg: fmt.Sprintf("unexpected byte %q", c)}
	}
}

func decodeInt(data []byte, pos int) (any, int, error) {
	end := pos + 1
	for end < len(data) && data[end] != 'e' {
		end++
	}
	if end >= len(data) {
		return nil, pos, &DecodeError{Offset: pos, Msg: "unterminated integer"}
	}
	digits := string(data[pos+1 : end])
	if digits == "" || digits == "-0" || (len(digits) > 1 && digits[0] == '0') ||
		(len(digits) > 2 && digits[0] == '-' && digits[1] == '0') {
		return nil, pos, &DecodeError{Offset: pos, Msg: fmt.Sprintf("invalid integer %q", digits)}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, pos, &DecodeError{Offset: pos, Msg: fmt.Sprintf("invalid integer %q", digits)}
	}
	return n, end + 1, nil
}

func decodeString(data []byte, pos int) (string, int, error) {
	colon := pos
	for colon < len(data) && data[colon] >= '0' && data[colon] <= '9' {
		colon++
	}
	if colon == pos || colon >= len(data) || data[colon] != ':' {
		return "", pos, &DecodeError{Offset: pos, Msg: "invalid string length"}
	}
	length, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil {
		return "", pos, &DecodeError{Offset: pos, Msg: "invalid string length"}
	}
	start := colon + 1
	if length > len(data)-start {
		return "", pos, &DecodeError{Offset: pos, Msg: "string exceeds input"}
	}
	return string(data[start : start+length]), start + length, nil
}
