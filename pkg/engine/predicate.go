package engine

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// regexCache memoizes compiled patterns the same way pkg/rules/cached.go's
// package-level regexCache does for the CloudTrail filter rules, since
// RegexMatch field specs are evaluated once per record per rule.
var (
	regexCacheMu sync.RWMutex
	regexCache   = make(map[string]*regexp.Regexp)
)

func getOrCompileRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.RLock()
	if re, ok := regexCache[pattern]; ok {
		regexCacheMu.RUnlock()
		return re, nil
	}
	regexCacheMu.RUnlock()

	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache[pattern] = re
	return re, nil
}

// EvalFieldMatch evaluates one FieldMatchSpec against a record, applying
// §4.1's comparator semantics and sign-negation. A missing FieldName
// yields false with ok=false, so EvalFieldList can tell "field absent"
// apart from "field present, predicate false".
func EvalFieldMatch(rec Record, spec FieldMatchSpec, byteDecoding string) (result bool, ok bool) {
	target, present := rec[spec.FieldName]
	if !present {
		return false, false
	}

	code := spec.MatchCode
	negate := code < 0
	if negate {
		code = -code
	}

	var r bool
	switch code {
	case MatchEqual:
		r = evalEqual(target, spec.MatchContent, byteDecoding)
	case MatchTextContains:
		r = evalTextContains(target, spec.MatchContent, byteDecoding)
	case MatchRegex:
		r = evalRegexMatch(target, spec.MatchContent, byteDecoding)
	case MatchGreaterThan:
		r = evalGreaterThan(target, spec.MatchContent)
	case MatchLengthEqual:
		r = evalLength(target, spec.MatchContent, func(l, n int) bool { return l == n })
	case MatchLengthGreaterThan:
		r = evalLength(target, spec.MatchContent, func(l, n int) bool { return l > n })
	default:
		// Unrecognized code: the spec contributes false, evaluation
		// continues (§7 "invalid match/operator code").
		r = false
	}

	if negate {
		r = !r
	}
	return r, true
}

func decodeBytes(v any, byteDecoding string) (string, bool) {
	b, ok := v.([]byte)
	if !ok {
		return "", false
	}
	switch strings.ToLower(byteDecoding) {
	case "utf-16", "utf16":
		return decodeUTF16(b), true
	default:
		return string(b), true
	}
}

func decodeUTF16(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-len(b)%2]
	}
	runes := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		runes = append(runes, uint16(b[i])|uint16(b[i+1])<<8)
	}
	var sb strings.Builder
	for _, u := range runes {
		sb.WriteRune(rune(u))
	}
	return sb.String()
}

func base64DecodeMatchContent(mc any) (string, bool) {
	s, ok := mc.(string)
	if !ok {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func toComparableString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func evalEqual(target, matchContent any, byteDecoding string) bool {
	if tb, isBytes := target.([]byte); isBytes {
		decodedTarget, ok := decodeBytes(tb, byteDecoding)
		if !ok {
			return false
		}
		decodedMatch, ok := base64DecodeMatchContent(matchContent)
		if !ok {
			return false
		}
		return decodedTarget == decodedMatch
	}

	if fmt.Sprintf("%T", target) == fmt.Sprintf("%T", matchContent) {
		return reflect.DeepEqual(target, matchContent)
	}
	return toComparableString(target) == toComparableString(matchContent)
}

func evalTextContains(target, matchContent any, byteDecoding string) bool {
	var targetStr, matchStr string

	if tb, isBytes := target.([]byte); isBytes {
		s, ok := decodeBytes(tb, byteDecoding)
		if !ok {
			return false
		}
		targetStr = s
		// Byte target: match content is expected to be base64 too (§4.1).
		s, ok = base64DecodeMatchContent(matchContent)
		if !ok {
			return false
		}
		matchStr = s
	} else {
		targetStr = toComparableString(target)
		matchStr = toComparableString(matchContent)
	}

	return strings.Contains(strings.ToLower(targetStr), strings.ToLower(matchStr))
}

func evalRegexMatch(target, matchContent any, byteDecoding string) bool {
	var targetStr string
	if tb, isBytes := target.([]byte); isBytes {
		s, ok := decodeBytes(tb, byteDecoding)
		if !ok {
			return false
		}
		targetStr = s
	} else {
		targetStr = toComparableString(target)
	}

	pattern, ok := matchContent.(string)
	if !ok {
		return false
	}
	re, err := getOrCompileRegex(pattern)
	if err != nil {
		return false
	}
	loc := re.FindStringIndex(targetStr)
	return loc != nil && loc[0] == 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// isNumeric reports whether v is already one of the numeric Go types,
// per §4.1's "if both are numeric, compare directly" branch.
func isNumeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// toInt implements the spec's fallback "attempt integer parse" path: a
// strict integer parse, matching the original's int(...) conversion —
// a string like "10.5" fails here (and so fails the predicate) even
// though it would parse fine as a float.
func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float32:
		if float32(int64(t)) != t {
			return 0, false
		}
		return int64(t), true
	case float64:
		if float64(int64(t)) != t {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func evalGreaterThan(target, matchContent any) bool {
	if mf, mok := isNumeric(matchContent); mok {
		if tf, tok := isNumeric(target); tok {
			return mf > tf
		}
	}

	mi, mok := toInt(matchContent)
	ti, tok := toInt(target)
	if !mok || !tok {
		return false
	}
	return mi > ti
}

func evalLength(target, matchContent any, cmp func(length, n int) bool) bool {
	var length int
	switch t := matchContent.(type) {
	case string:
		length = len(t)
	case []byte:
		length = len(t)
	case []any:
		length = len(t)
	default:
		// Numeric MatchContent has no length: predicate false.
		return false
	}

	n, ok := toFloat(target)
	if !ok {
		return false
	}
	return cmp(length, int(n))
}
