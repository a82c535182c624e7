package engine_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"tflow/pkg/engine"
)

func TestEvalFieldMatchEqual(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"a": int64(5), "s": "hello"}

	r, ok := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "a", MatchContent: int64(5), MatchCode: engine.MatchEqual}, "utf-16")
	assert.True(ok)
	assert.True(r)

	r2, ok2 := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "s", MatchContent: 5, MatchCode: engine.MatchEqual}, "utf-16")
	assert.True(ok2)
	assert.False(r2)
}

func TestEvalFieldMatchMissingField(t *testing.T) {
	rec := engine.Record{"a": int64(1)}
	r, ok := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "missing", MatchContent: 1, MatchCode: engine.MatchEqual}, "utf-16")
	assert.New(t).False(ok)
	assert.New(t).False(r)
}

func TestEvalFieldMatchTextContainsCaseInsensitive(t *testing.T) {
	rec := engine.Record{"s": "Hello World"}
	r, ok := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "s", MatchContent: "WORLD", MatchCode: engine.MatchTextContains}, "utf-16")
	assert.New(t).True(ok)
	assert.New(t).True(r)
}

func TestEvalFieldMatchRegexAnchored(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"s": "foobar"}
	r, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "s", MatchContent: "foo", MatchCode: engine.MatchRegex}, "utf-16")
	assert.True(r)

	r2, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "s", MatchContent: "bar", MatchCode: engine.MatchRegex}, "utf-16")
	assert.False(r2, "regex match is anchored at start, not a search")
}

func TestEvalFieldMatchGreaterThan(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"n": int64(3)}
	r, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: int64(10), MatchCode: engine.MatchGreaterThan}, "utf-16")
	assert.True(r, "MatchContent > target")

	r2, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: "not-a-number", MatchCode: engine.MatchGreaterThan}, "utf-16")
	assert.False(r2, "parse failure is false, not an error")
}

func TestEvalFieldMatchGreaterThanStringFallbackIsStrictInteger(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"n": "3"}

	// Neither side is an already-numeric Go type, so the fallback must
	// attempt an integer parse, not a float parse: "10.5" is not an
	// integer and the predicate is false even though it would parse
	// fine as a float.
	r, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: "10.5", MatchCode: engine.MatchGreaterThan}, "utf-16")
	assert.False(r, "fractional string fails the strict integer parse")

	r2, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: "10", MatchCode: engine.MatchGreaterThan}, "utf-16")
	assert.True(r2, "whole-number strings parse as integers on both sides")
}

func TestEvalFieldMatchLength(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"n": int64(5)}
	r, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: "hello", MatchCode: engine.MatchLengthEqual}, "utf-16")
	assert.True(r)

	r2, _ := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "n", MatchContent: int64(5), MatchCode: engine.MatchLengthEqual}, "utf-16")
	assert.False(r2, "numeric MatchContent has no length")
}

func TestEvalFieldMatchNegation(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"a": int64(1)}
	spec := engine.FieldMatchSpec{FieldName: "a", MatchContent: int64(1), MatchCode: -engine.MatchEqual}
	r, ok := engine.EvalFieldMatch(rec, spec, "utf-16")
	assert.True(ok)
	assert.False(r)
}

func TestEvalFieldMatchByteEqualBase64(t *testing.T) {
	assert := assert.New(t)
	rec := engine.Record{"b": []byte("abc")}
	encoded := base64.StdEncoding.EncodeToString([]byte("abc"))
	r, ok := engine.EvalFieldMatch(rec, engine.FieldMatchSpec{FieldName: "b", MatchContent: encoded, MatchCode: engine.MatchEqual}, "raw")
	assert.True(ok)
	assert.True(r)
}

func TestEvalFieldListEmptyApplicableSetIsFalse(t *testing.T) {
	assert := assert.New(t)
	checks := []engine.FieldMatchSpec{
		{FieldName: "missing", MatchContent: 1, MatchCode: engine.MatchEqual},
	}
	assert.False(engine.EvalFieldList(engine.Record{}, checks, engine.OpAND, "utf-16"))
}

func TestEvalFieldListEmptyListTriviallyPasses(t *testing.T) {
	assert.New(t).True(engine.EvalFieldList(engine.Record{}, nil, engine.OpAND, "utf-16"))
}
