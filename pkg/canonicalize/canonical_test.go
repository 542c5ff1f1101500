package canonicalize

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/gowebpki/jcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Sorting(t *testing.T) {
	b, err := Canonicalize(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))
}

func TestCanonicalize_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"y": "foo", "x": "bar"},
		"arr": []interface{}{
			map[string]interface{}{"z": 1, "a": 2},
			3, 1, 2,
		},
		"a": 1,
	}

	b, err := Canonicalize(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"arr":[{"a":2,"z":1},3,1,2],"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestCanonicalize_SignedFieldsShape(t *testing.T) {
	input := map[string]interface{}{
		"vendor_id":    "aws",
		"agent_id":     "agent_test_001",
		"amount_cents": 5000,
	}

	b, err := Canonicalize(input)
	require.NoError(t, err)
	assert.Equal(t, `{"agent_id":"agent_test_001","amount_cents":5000,"vendor_id":"aws"}`, string(b))
}

func TestCanonicalize_RawUTF8(t *testing.T) {
	b, err := Canonicalize(map[string]string{"name": "café", "emoji": "🚀", "sep": "\u2028"})
	require.NoError(t, err)
	assert.Equal(t, "{\"emoji\":\"🚀\",\"name\":\"café\",\"sep\":\"\u2028\"}", string(b))
}

func TestCanonicalize_NoHTMLEscaping(t *testing.T) {
	b, err := Canonicalize(map[string]string{"html": "<script>alert('xss')</script> &"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestCanonicalize_ControlEscapes(t *testing.T) {
	b, err := Canonicalize("a\"b\\c\nd\te\x01f\x7f")
	require.NoError(t, err)
	assert.Equal(t, "\"a\\\"b\\\\c\\nd\\te\\u0001f\x7f\"", string(b))
}

func TestCanonicalize_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", -42, "-42"},
		{"uint", uint64(18446744073709551615), "18446744073709551615"},
		{"whole float", 1.0, "1.0"},
		{"negative zero", math.Copysign(0, -1), "-0.0"},
		{"fraction", 0.5, "0.5"},
		{"small fixed", 0.0001, "0.0001"},
		{"small exponent", 0.00001, "1e-05"},
		{"large fixed", 1e15, "1000000000000000.0"},
		{"large exponent", 1e16, "1e+16"},
		{"large mantissa", 1.5e300, "1.5e+300"},
		{"number integer", json.Number("5000"), "5000"},
		{"number big integer", json.Number("123456789012345678901234567890"), "123456789012345678901234567890"},
		{"number float", json.Number("1E5"), "100000.0"},
		{"nil raw", json.RawMessage(nil), "null"},
		{"raw", json.RawMessage(`{"b":[1,2.50],"a":"x"}`), `{"a":"x","b":[1,2.5]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestCanonicalize_StructsUseJSONTags(t *testing.T) {
	type payment struct {
		IBAN      string `json:"recipient_iban"`
		Reference string `json:"payment_reference,omitempty"`
	}
	b, err := Canonicalize(map[string]interface{}{"payment_instruction": payment{IBAN: "XX00"}})
	require.NoError(t, err)
	assert.Equal(t, `{"payment_instruction":{"recipient_iban":"XX00"}}`, string(b))
}

func TestCanonicalize_EncodingErrors(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
	}{
		{"nan", math.NaN()},
		{"inf", map[string]interface{}{"x": math.Inf(1)}},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"complex", complex(1, 2)},
		{"bytes", []byte("raw")},
		{"int keys", map[int]string{1: "a"}},
		{"invalid utf8", "\xff\xfe"},
		{"invalid raw", json.RawMessage(`{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEncoding), "expected ErrEncoding, got %v", err)

			var encErr *EncodingError
			assert.True(t, errors.As(err, &encErr))
		})
	}
}

func TestCanonicalize_Cycles(t *testing.T) {
	selfMap := map[string]interface{}{"a": 1}
	selfMap["self"] = selfMap

	selfSlice := []interface{}{1, nil}
	selfSlice[1] = selfSlice

	var selfPtr interface{}
	selfPtr = &selfPtr

	deep := map[string]interface{}{}
	deep["items"] = []interface{}{map[string]interface{}{"parent": deep}}

	tests := []struct {
		name string
		in   interface{}
		path string
	}{
		{"map", selfMap, "/self"},
		{"slice", selfSlice, "/1"},
		{"pointer", &selfPtr, ""},
		{"nested", deep, "/items/0/parent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.in)
			require.ErrorIs(t, err, ErrEncoding)
			var encErr *EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, "cycle", encErr.Reason)
			if tt.path != "" {
				assert.Equal(t, tt.path, encErr.Path)
			}
		})
	}
}

func TestCanonicalize_SharedValuesAreNotCycles(t *testing.T) {
	shared := map[string]interface{}{"k": "v"}
	list := []interface{}{1, 2}
	got, err := String(map[string]interface{}{"a": shared, "b": shared, "c": list, "d": list})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":"v"},"b":{"k":"v"},"c":[1,2],"d":[1,2]}`, got)
}

func TestCanonicalize_ErrorPath(t *testing.T) {
	_, err := Canonicalize(map[string]interface{}{"metadata": map[string]interface{}{"ratio": math.NaN()}})
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "/metadata/ratio", encErr.Path)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	input := map[string]interface{}{
		"metadata":     map[string]interface{}{"ratio": 0.25, "tags": []string{"b", "a"}},
		"amount_cents": 5000,
		"currency":     "EUR",
	}

	first, err := Canonicalize(input)
	require.NoError(t, err)

	reparsed, err := Reparse(first)
	require.NoError(t, err)

	second, err := Canonicalize(reparsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

// RFC 8785 and this encoding agree on ASCII text and integers; an independent
// JCS implementation must produce the same bytes for such inputs.
func TestCanonicalize_AgreesWithJCSOnASCIIIntegers(t *testing.T) {
	inputs := []string{
		`{"b":2,"a":1}`,
		`{"intent_id":"i-1","agent_id":"agent_test_001","amount_cents":5000,"currency":"EUR","vendor_id":"aws","nonce":"bm9uY2U=","ttl_seconds":300}`,
		`{"z":{"y":[3,1,{"k":"v","c":true}],"x":null},"a":"<&>"}`,
	}

	for _, in := range inputs {
		want, err := jcs.Transform([]byte(in))
		require.NoError(t, err)

		generic, err := Reparse([]byte(in))
		require.NoError(t, err)
		got, err := Canonicalize(generic)
		require.NoError(t, err)

		assert.Equal(t, string(want), string(got), "input %s", in)
	}
}

func TestCanonicalHash_Stability(t *testing.T) {
	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	h1, err := CanonicalHash(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(S{A: 1, B: 2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestString_IsReachable(t *testing.T) {
	s, err := String(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, s)
}
