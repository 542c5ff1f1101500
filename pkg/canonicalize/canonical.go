// Package canonicalize produces the deterministic byte encoding that agent
// signatures and notary seals are computed over.
//
// The encoding is JSON with mapping keys sorted by code point at every level,
// no insignificant whitespace, the separators "," and ":", and strings written
// as raw UTF-8. It must match the remote authorization service byte for byte:
// a signature only means something if signer and verifier agree on the bytes.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrEncoding is matched by every EncodingError.
var ErrEncoding = errors.New("canonicalize: no canonical form")

// EncodingError reports a value that has no canonical form.
type EncodingError struct {
	Path   string // JSON-pointer style location of the offending value
	Type   string
	Reason string
}

func (e *EncodingError) Error() string {
	path := e.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("canonicalize: %s at %s (%s)", e.Reason, path, e.Type)
}

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	rawMessageType    = reflect.TypeOf(json.RawMessage(nil))
	numberType        = reflect.TypeOf(json.Number(""))
)

// Canonicalize returns the canonical bytes of v.
//
// Maps, slices, strings, booleans, integers, finite floats, json.Number,
// json.RawMessage and nil are encoded directly. Structs and types that
// implement json.Marshaler are lowered through encoding/json first so their
// field tags are respected. Anything else yields an *EncodingError.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf encodeState
	if err := encodeValue(&buf, reflect.ValueOf(v), ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String returns the canonical form of v as a string.
func String(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Digest returns the raw SHA-256 digest of data.
func Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	return hex.EncodeToString(Digest(data))
}

// CanonicalHash returns the hex SHA-256 digest of the canonical form of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Reparse decodes canonical bytes back into generic values, keeping numbers
// as json.Number so that re-canonicalizing is lossless.
func Reparse(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonicalize: reparse: %w", err)
	}
	return out, nil
}

// encodeState is the output buffer plus the containers currently being
// encoded on the path from the root.
type encodeState struct {
	bytes.Buffer
	seen map[visit]struct{}
}

type visit struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

// enter marks a map, slice or pointer as open on the current path and fails
// when it is already open further up.
func (e *encodeState) enter(v reflect.Value, path string) (leave func(), err error) {
	key := visit{kind: v.Kind(), ptr: v.Pointer()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if _, ok := e.seen[key]; ok {
		return nil, &EncodingError{Path: path, Type: v.Type().String(), Reason: "cycle"}
	}
	if e.seen == nil {
		e.seen = make(map[visit]struct{})
	}
	e.seen[key] = struct{}{}
	return func() { delete(e.seen, key) }, nil
}

func encodeValue(buf *encodeState, v reflect.Value, path string) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}

	t := v.Type()
	switch t {
	case rawMessageType:
		if v.Len() == 0 {
			buf.WriteString("null")
			return nil
		}
		return encodeRaw(buf, v.Bytes(), path)
	case numberType:
		return encodeNumber(buf, json.Number(v.String()), path)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Interface {
			return encodeValue(buf, v.Elem(), path)
		}
		if t.Implements(jsonMarshalerType) {
			return encodeViaJSON(buf, v, path)
		}
		leave, err := buf.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return encodeValue(buf, v.Elem(), path)
	case reflect.Bool:
		if v.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil
	case reflect.Float32:
		return encodeFloat(buf, v.Float(), 32, path)
	case reflect.Float64:
		return encodeFloat(buf, v.Float(), 64, path)
	case reflect.String:
		return encodeString(buf, v.String(), path)
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return &EncodingError{Path: path, Type: t.String(), Reason: "map key is not a string"}
		}
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		leave, err := buf.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return encodeMap(buf, v, path)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &EncodingError{Path: path, Type: t.String(), Reason: "raw bytes"}
		}
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		leave, err := buf.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return encodeArray(buf, v, path)
	case reflect.Array:
		return encodeArray(buf, v, path)
	case reflect.Struct:
		return encodeViaJSON(buf, v, path)
	default:
		return &EncodingError{Path: path, Type: t.String(), Reason: "unsupported type"}
	}
}

func encodeMap(buf *encodeState, v reflect.Value, path string) error {
	keys := make([]string, 0, v.Len())
	values := make(map[string]reflect.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		if !utf8.ValidString(k) {
			return &EncodingError{Path: path, Type: "string", Reason: "map key is not valid UTF-8"}
		}
		keys = append(keys, k)
		values[k] = iter.Value()
	}
	// Byte order of valid UTF-8 equals code point order.
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeQuoted(&buf.Buffer, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, values[k], path+"/"+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *encodeState, v reflect.Value, path string) error {
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v.Index(i), path+"/"+strconv.Itoa(i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// encodeViaJSON lowers structs and json.Marshalers to generic values first,
// then encodes the result canonically.
func encodeViaJSON(buf *encodeState, v reflect.Value, path string) error {
	intermediate, err := json.Marshal(v.Interface())
	if err != nil {
		return &EncodingError{Path: path, Type: v.Type().String(), Reason: "pre-marshal failed: " + err.Error()}
	}
	return encodeRaw(buf, intermediate, path)
}

func encodeRaw(buf *encodeState, raw []byte, path string) error {
	generic, err := Reparse(raw)
	if err != nil {
		return &EncodingError{Path: path, Type: "json.RawMessage", Reason: "invalid JSON"}
	}
	return encodeValue(buf, reflect.ValueOf(generic), path)
}

// encodeNumber normalizes a JSON number literal: integer literals keep full
// precision, everything else is read as a float and written in float form.
func encodeNumber(buf *encodeState, n json.Number, path string) error {
	s := n.String()
	if s == "" {
		return &EncodingError{Path: path, Type: "json.Number", Reason: "empty number"}
	}
	if !strings.ContainsAny(s, ".eE") {
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return &EncodingError{Path: path, Type: "json.Number", Reason: "malformed integer " + strconv.Quote(s)}
		}
		buf.WriteString(i.String())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return &EncodingError{Path: path, Type: "json.Number", Reason: "malformed number " + strconv.Quote(s)}
	}
	return encodeFloat(buf, f, 64, path)
}

// encodeFloat writes the shortest round-trip representation of f: fixed
// notation with at least one fractional digit when the decimal exponent is in
// [-4, 16), exponent notation with a signed two-digit minimum exponent
// otherwise (1.0, 0.0001, 1e-05, 1e+16).
func encodeFloat(buf *encodeState, f float64, bitSize int, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Path: path, Type: "float", Reason: "non-finite number"}
	}

	sci := strconv.FormatFloat(f, 'e', -1, bitSize)
	neg := strings.HasPrefix(sci, "-")
	sci = strings.TrimPrefix(sci, "-")

	mantissa, expPart, _ := strings.Cut(sci, "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return &EncodingError{Path: path, Type: "float", Reason: "unexpected float format"}
	}
	digits := strings.Replace(mantissa, ".", "", 1)

	if neg {
		buf.WriteByte('-')
	}

	if exp < -4 || exp >= 16 {
		buf.WriteByte(digits[0])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if exp < 0 {
			buf.WriteByte('-')
			exp = -exp
		} else {
			buf.WriteByte('+')
		}
		if exp < 10 {
			buf.WriteByte('0')
		}
		buf.WriteString(strconv.Itoa(exp))
		return nil
	}

	point := exp + 1
	switch {
	case point <= 0:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -point))
		buf.WriteString(digits)
	case point >= len(digits):
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", point-len(digits)))
		buf.WriteString(".0")
	default:
		buf.WriteString(digits[:point])
		buf.WriteByte('.')
		buf.WriteString(digits[point:])
	}
	return nil
}

func encodeString(buf *encodeState, s string, path string) error {
	if !utf8.ValidString(s) {
		return &EncodingError{Path: path, Type: "string", Reason: "invalid UTF-8"}
	}
	writeQuoted(&buf.Buffer, s)
	return nil
}

const hexDigits = "0123456789abcdef"

// writeQuoted escapes only the quote, the backslash and C0 controls.
// Non-ASCII text, HTML metacharacters and U+2028/U+2029 are written as is.
func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		buf.WriteString(s[start:i])
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		}
		start = i + 1
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}
