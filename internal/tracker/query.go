package tracker

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// queryParam is one key=value pair of a raw query string. Values are
// percent-decoded into raw bytes; '+' is kept literally because binary
// parameters are never form-encoded.
type queryParam struct {
	key   string
	value string
	err   error
}

type rawQuery []queryParam

func parseRawQuery(raw string) rawQuery {
	var params rawQuery
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.PathUnescape(k)
		if err != nil {
			key = k
		}
		value, verr := url.PathUnescape(v)
		if err == nil {
			err = verr
		}
		params = append(params, queryParam{key: key, value: value, err: err})
	}
	return params
}

// first returns the first occurrence of key.
func (q rawQuery) first(key string) (queryParam, bool) {
	for _, p := range q {
		if p.key == key {
			return p, true
		}
	}
	return queryParam{}, false
}

// all returns every occurrence of key in request order.
func (q rawQuery) all(key string) []queryParam {
	var out []queryParam
	for _, p := range q {
		if p.key == key {
			out = append(out, p)
		}
	}
	return out
}

func (q rawQuery) str(key string) string {
	p, ok := q.first(key)
	if !ok || p.err != nil {
		return ""
	}
	return p.value
}

// intRange parses key as an integer clamped to [lo, hi]. Missing or
// non-numeric values yield def.
func (q rawQuery) intRange(key string, def, lo, hi int64) int64 {
	n, ok := q.integer(key)
	if !ok {
		return def
	}
	return clamp(n, lo, hi)
}

// integer parses key, saturating on overflow.
func (q rawQuery) integer(key string) (int64, bool) {
	p, ok := q.first(key)
	if !ok || p.err != nil {
		return 0, false
	}
	s := strings.TrimSpace(p.value)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			if strings.HasPrefix(s, "-") {
				return math.MinInt64, true
			}
			return math.MaxInt64, true
		}
		return 0, false
	}
	return n, true
}

func clamp(n, lo, hi int64) int64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
