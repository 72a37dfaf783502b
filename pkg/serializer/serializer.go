// Package serializer is a reflection codec for plain Go values: fixed
// width little-endian integers, compact natural lengths for strings,
// slices and maps, a presence byte for pointers, and fields in
// declaration order for structs. Empty slices and maps decode as nil.
// Maps are written in key order so equal values always encode to equal
// bytes.
package serializer

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"reflect"
	"sort"

	"github.com/cockroachdb/errors"
)

var emptyStructType = reflect.TypeOf(struct{}{})

// Serialize accepts an arbitrary value or pointer and returns its []byte representation.
func Serialize(v any) []byte {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	var enc encoder
	enc.Grow(1024)
	enc.value(rv)
	return enc.Bytes()
}

// Deserialize decodes data into the value target points to. All of data
// must be consumed.
func Deserialize(data []byte, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("deserialize target must be a non-nil pointer")
	}
	dec := decoder{data: data}
	if err := dec.value(rv.Elem()); err != nil {
		return err
	}
	if rest := len(dec.data) - dec.off; rest > 0 {
		return errors.Newf("extra %d bytes left after deserialization", rest)
	}
	return nil
}

type encoder struct {
	bytes.Buffer
}

func (e *encoder) natural(x uint64) {
	e.Write(EncodeGeneralNatural(x))
}

func (e *encoder) value(v reflect.Value) {
	switch k := v.Kind(); k {
	case reflect.Ptr:
		if v.IsNil() {
			e.WriteByte(0)
			return
		}
		e.WriteByte(1)
		e.value(v.Elem())

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).Name != "_" {
				e.value(v.Field(i))
			}
		}

	case reflect.Map:
		e.mapValue(v)

	case reflect.Slice:
		e.natural(uint64(v.Len()))
		e.elems(v)

	case reflect.Array:
		e.elems(v)

	case reflect.String:
		e.natural(uint64(v.Len()))
		e.WriteString(v.String())

	case reflect.Bool:
		var b byte
		if v.Bool() {
			b = 1
		}
		e.WriteByte(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := int(v.Type().Size())
		e.Write(EncodeLittleEndian(n, SignedToUnsigned(n, v.Int())))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.Write(EncodeLittleEndian(int(v.Type().Size()), v.Uint()))

	default:
		panic(errors.AssertionFailedf("serializer: unsupported kind %s", k))
	}
}

// elems writes the elements of an array or slice, byte sequences in bulk.
func (e *encoder) elems(v reflect.Value) {
	if v.Type().Elem().Kind() == reflect.Uint8 {
		if v.Kind() == reflect.Slice {
			e.Write(v.Bytes())
			return
		}
		for i := 0; i < v.Len(); i++ {
			e.WriteByte(byte(v.Index(i).Uint()))
		}
		return
	}
	for i := 0; i < v.Len(); i++ {
		e.value(v.Index(i))
	}
}

// mapValue writes the pairs in key order. Maps to struct{} are sets and
// carry keys only.
func (e *encoder) mapValue(v reflect.Value) {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	e.natural(uint64(len(keys)))
	set := v.Type().Elem() == emptyStructType
	for _, k := range keys {
		e.value(k)
		if !set {
			e.value(v.MapIndex(k))
		}
	}
}

func keyLess(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() < b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() < b.Uint()
	case reflect.String:
		return a.String() < b.String()
	}
	var x, y encoder
	x.value(a)
	y.value(b)
	return bytes.Compare(x.Bytes(), y.Bytes()) < 0
}

// decoder reads from data, reporting the offset of the first malformed
// field.
type decoder struct {
	data []byte
	off  int
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if n < 0 || n > len(d.data)-d.off {
		return nil, errors.Newf("offset %d: %s of %d bytes overruns %d byte input", d.off, what, n, len(d.data))
	}
	p := d.data[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *decoder) byte(what string) (byte, error) {
	p, err := d.take(1, what)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// length reads a collection length. Every element takes at least one
// byte, which bounds allocations on corrupt input.
func (d *decoder) length(what string) (int, error) {
	x, n, ok := DecodeGeneralNatural(d.data[d.off:])
	if !ok {
		return 0, errors.Newf("offset %d: malformed %s length", d.off, what)
	}
	d.off += n
	if x > uint64(len(d.data)-d.off) {
		return 0, errors.Newf("offset %d: %s of %d elements overruns input", d.off, what, x)
	}
	return int(x), nil
}

func (d *decoder) fixed(n int) (uint64, error) {
	p, err := d.take(n, "integer")
	if err != nil {
		return 0, err
	}
	return DecodeLittleEndian(p), nil
}

func (d *decoder) value(v reflect.Value) error {
	t := v.Type()
	switch k := v.Kind(); k {
	case reflect.Ptr:
		tag, err := d.byte("pointer tag")
		if err != nil {
			return err
		}
		switch tag {
		case 0:
			v.Set(reflect.Zero(t))
			return nil
		case 1:
			if v.IsNil() {
				v.Set(reflect.New(t.Elem()))
			}
			return d.value(v.Elem())
		}
		return errors.Newf("offset %d: invalid pointer tag %d", d.off-1, tag)

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				continue
			}
			if err := d.value(v.Field(i)); err != nil {
				return errors.Wrapf(err, "%s.%s", t.Name(), f.Name)
			}
		}
		return nil

	case reflect.Map:
		return d.mapValue(v)

	case reflect.Slice:
		n, err := d.length("slice")
		if err != nil {
			return err
		}
		if n == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}
		v.Set(reflect.MakeSlice(t, n, n))
		return d.elems(v)

	case reflect.Array:
		return d.elems(v)

	case reflect.String:
		n, err := d.length("string")
		if err != nil {
			return err
		}
		p, err := d.take(n, "string")
		if err != nil {
			return err
		}
		v.SetString(string(p))
		return nil

	case reflect.Bool:
		b, err := d.byte("bool")
		if err != nil {
			return err
		}
		if b > 1 {
			return errors.Newf("offset %d: invalid bool byte %d", d.off-1, b)
		}
		v.SetBool(b == 1)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := int(t.Size())
		x, err := d.fixed(n)
		if err != nil {
			return err
		}
		v.SetInt(UnsignedToSigned(n, x))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x, err := d.fixed(int(t.Size()))
		if err != nil {
			return err
		}
		v.SetUint(x)
		return nil

	default:
		return errors.Newf("serializer: unsupported kind %s", k)
	}
}

func (d *decoder) elems(v reflect.Value) error {
	n := v.Len()
	if v.Type().Elem().Kind() == reflect.Uint8 {
		p, err := d.take(n, "byte sequence")
		if err != nil {
			return err
		}
		if v.Kind() == reflect.Slice {
			copy(v.Bytes(), p)
			return nil
		}
		for i, b := range p {
			v.Index(i).SetUint(uint64(b))
		}
		return nil
	}
	for i := 0; i < n; i++ {
		if err := d.value(v.Index(i)); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	return nil
}

func (d *decoder) mapValue(v reflect.Value) error {
	n, err := d.length("map")
	if err != nil {
		return err
	}
	t := v.Type()
	if n == 0 {
		v.Set(reflect.Zero(t))
		return nil
	}
	m := reflect.MakeMapWithSize(t, n)
	set := t.Elem() == emptyStructType
	for i := 0; i < n; i++ {
		key := reflect.New(t.Key()).Elem()
		if err := d.value(key); err != nil {
			return errors.Wrap(err, "map key")
		}
		elem := reflect.New(t.Elem()).Elem()
		if !set {
			if err := d.value(elem); err != nil {
				return errors.Wrapf(err, "map value for %v", key)
			}
		}
		m.SetMapIndex(key, elem)
	}
	v.Set(m)
	return nil
}

// EncodeGeneralNatural encodes x in the compact format:
//  1. x == 0: a single 0x00 octet.
//  2. x below 2^56: a header carrying the number of extra octets and the
//     high bits, then the remainder little-endian.
//  3. Otherwise 0xFF followed by x as 8 little-endian octets.
func EncodeGeneralNatural(x uint64) []byte {
	if x == 0 {
		return []byte{0x00}
	}
	l := uint((bits.Len64(x) - 1) / 7)
	if l >= 8 {
		out := make([]byte, 9)
		out[0] = 0xFF
		binary.LittleEndian.PutUint64(out[1:], x)
		return out
	}
	header := (1 << 8) - (1 << (8 - l)) + (x >> (8 * l))
	out := []byte{byte(header)}
	if l > 0 {
		remainder := x & ((uint64(1) << (8 * l)) - 1)
		out = append(out, EncodeLittleEndian(int(l), remainder)...)
	}
	return out
}

// DecodeGeneralNatural reads one compact natural from the front of p and
// reports how many bytes it took.
func DecodeGeneralNatural(p []byte) (x uint64, n int, ok bool) {
	if len(p) == 0 {
		return 0, 0, false
	}
	switch header := p[0]; header {
	case 0x00:
		return 0, 1, true
	case 0xFF:
		if len(p) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(p[1:9]), 9, true
	default:
		// Leading ones count the remainder octets.
		l := bits.LeadingZeros8(^header)
		if len(p) < 1+l {
			return 0, 0, false
		}
		high := uint64(header) - (256 - uint64(1)<<(8-l))
		return high<<(8*l) | DecodeLittleEndian(p[1:1+l]), 1 + l, true
	}
}

// EncodeLittleEndian writes the low octets bytes of x.
func EncodeLittleEndian(octets int, x uint64) []byte {
	out := make([]byte, octets)
	switch octets {
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(x))
	case 8:
		binary.LittleEndian.PutUint64(out, x)
	default:
		for i := range out {
			out[i] = byte(x >> (8 * i))
		}
	}
	return out
}

func DecodeLittleEndian(b []byte) uint64 {
	switch len(b) {
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	var x uint64
	for i, v := range b {
		x |= uint64(v) << (8 * i)
	}
	return x
}

// UnsignedToSigned interprets the low 8*octets bits of x as two's
// complement.
func UnsignedToSigned(octets int, x uint64) int64 {
	if octets == 8 {
		return int64(x)
	}
	shift := 64 - 8*uint(octets)
	return int64(x<<shift) >> shift
}

// SignedToUnsigned truncates a to its low 8*octets bits.
func SignedToUnsigned(octets int, a int64) uint64 {
	if octets == 8 {
		return uint64(a)
	}
	return uint64(a) & (uint64(1)<<(8*uint(octets)) - 1)
}
