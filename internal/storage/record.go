package storage

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// ValueKind distinguishes the five SQLite storage classes a Value can
// hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is one column of a decoded or to-be-encoded Record.
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Text string
	Blob []byte
}

// NullValue constructs a NULL column value.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue constructs an integer column value.
func IntValue(v int64) Value { return Value{Kind: KindInteger, Int: v} }

// RealValue constructs a floating point column value.
func RealValue(v float64) Value { return Value{Kind: KindReal, Real: v} }

// TextValue constructs a text column value.
func TextValue(v string) Value { return Value{Kind: KindText, Text: v} }

// BlobValue constructs a blob column value.
func BlobValue(v []byte) Value { return Value{Kind: KindBlob, Blob: v} }

// StorageClass reports the storage class this value decodes to, used
// by the index comparator of btree_index.go.
func (v Value) StorageClass() StorageClass {
	switch v.Kind {
	case KindNull:
		return ClassNull
	case KindInteger:
		return ClassIntegral
	case KindReal:
		return ClassReal
	case KindText:
		return ClassText
	case KindBlob:
		return ClassBlob
	default:
		return ClassNull
	}
}

// intSerialType picks the narrowest serial type that losslessly
// represents v.
func intSerialType(v int64) int64 {
	switch {
	case v == 0:
		return serialZero // handled specially by callers that want the 8/9 optimization
	case v >= -128 && v <= 127:
		return serialInt8
	case v >= -32768 && v <= 32767:
		return serialInt16
	case v >= -8388608 && v <= 8388607:
		return serialInt24
	case v >= -2147483648 && v <= 2147483647:
		return serialInt32
	case v >= -140737488355328 && v <= 140737488355327:
		return serialInt48
	default:
		return serialInt64
	}
}

// writeIntBody writes the big-endian two's complement body bytes for
// serial type st (one of serialInt8..serialInt64).
func writeIntBody(buf *bytes.Buffer, st int64, v int64) {
	n := serialTypeContentSize(st)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[8-n:])
}

// readIntBody sign-extends n big-endian body bytes to an int64. 24-bit
// and 48-bit widths require explicit sign extension since Go has no
// native types for them.
func readIntBody(data []byte) int64 {
	n := len(data)
	var tmp [8]byte
	copy(tmp[8-n:], data)
	u := binary.BigEndian.Uint64(tmp[:])

	// Sign-extend from bit (8*n - 1).
	signBit := uint(8*n - 1)
	if u&(1<<signBit) != 0 {
		u |= ^uint64(0) << signBit
	}
	return int64(u)
}

// serialTypeAndSize computes the serial type and column-header varint
// length contribution for v, as well as its body byte count.
func serialTypeAndSize(v Value) (serialType int64, bodyLen int) {
	switch v.Kind {
	case KindNull:
		return serialNull, 0
	case KindInteger:
		if v.Int == 0 {
			return serialZero, 0
		}
		if v.Int == 1 {
			return serialOne, 0
		}
		st := intSerialType(v.Int)
		return st, serialTypeContentSize(st)
	case KindReal:
		return serialFloat64, 8
	case KindText:
		st := int64(2*len(v.Text) + 13)
		return st, len(v.Text)
	case KindBlob:
		st := int64(2*len(v.Blob) + 12)
		return st, len(v.Blob)
	default:
		return serialNull, 0
	}
}

// EncodeRecord serializes values into a SQLite-format record: a
// self-referential header-length varint, one serial-type varint per
// column, then the column bodies in order.
func EncodeRecord(values []Value) []byte {
	serialTypes := make([]int64, len(values))
	headerBodyLen := 0
	bodyLen := 0
	for i, v := range values {
		st, n := serialTypeAndSize(v)
		serialTypes[i] = st
		headerBodyLen += VarintLen(st)
		bodyLen += n
	}

	// Fixed point: header length includes its own varint's length.
	headerLen := 1 + headerBodyLen
	for {
		n := VarintLen(int64(headerLen))
		candidate := n + headerBodyLen
		if candidate == headerLen {
			break
		}
		headerLen = candidate
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerLen+bodyLen))
	_, _ = WriteVarint(buf, int64(headerLen))
	for _, st := range serialTypes {
		_, _ = WriteVarint(buf, st)
	}

	for i, v := range values {
		switch v.Kind {
		case KindNull:
			// No body bytes.
		case KindInteger:
			if v.Int == 0 || v.Int == 1 {
				continue
			}
			writeIntBody(buf, serialTypes[i], v.Int)
		case KindReal:
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Real))
			buf.Write(tmp[:])
		case KindText:
			buf.WriteString(v.Text)
		case KindBlob:
			buf.Write(v.Blob)
		}
	}

	return buf.Bytes()
}

// RecordReader decodes a record's columns one at a time without
// buffering the whole payload.
type RecordReader struct {
	r           io.Reader
	serialTypes []int64
	nextColumn  int
}

// NewRecordReader parses the header of r (header-length varint,
// then successive serial-type varints) and returns a reader
// positioned at the start of the body bytes.
func NewRecordReader(r io.Reader) (*RecordReader, error) {
	br := byteReaderFrom(r)

	headerLen, headerLenSize, err := ReadVarint(br)
	if err != nil {
		return nil, newCorruptRecord("reading header length: %v", err)
	}
	if headerLen < int64(headerLenSize) {
		return nil, newCorruptRecord("header length %d shorter than its own varint", headerLen)
	}

	remaining := headerLen - int64(headerLenSize)
	var serialTypes []int64
	for remaining > 0 {
		st, n, err := ReadVarint(br)
		if err != nil {
			return nil, newCorruptRecord("reading serial type: %v", err)
		}
		if !isValidSerialType(st) {
			return nil, newCorruptRecord("invalid serial type %d", st)
		}
		serialTypes = append(serialTypes, st)
		remaining -= int64(n)
	}
	if remaining != 0 {
		return nil, newCorruptRecord("header length inconsistent with serial type varints")
	}

	return &RecordReader{r: r, serialTypes: serialTypes}, nil
}

// NumColumns returns the number of columns described by the header.
func (rr *RecordReader) NumColumns() int {
	return len(rr.serialTypes)
}

// Next decodes the next column's value. It returns io.EOF once all
// columns have been read.
func (rr *RecordReader) Next() (Value, error) {
	if rr.nextColumn >= len(rr.serialTypes) {
		return Value{}, io.EOF
	}
	st := rr.serialTypes[rr.nextColumn]
	rr.nextColumn++

	size := serialTypeContentSize(st)
	var body []byte
	if size > 0 {
		body = make([]byte, size)
		if _, err := io.ReadFull(rr.r, body); err != nil {
			return Value{}, newCorruptRecord("reading column body: %v", err)
		}
	}

	return decodeValue(st, body), nil
}

func decodeValue(st int64, body []byte) Value {
	switch {
	case st == serialNull:
		return NullValue()
	case st == serialZero:
		return IntValue(0)
	case st == serialOne:
		return IntValue(1)
	case st >= serialInt8 && st <= serialInt64:
		return IntValue(readIntBody(body))
	case st == serialFloat64:
		return RealValue(math.Float64frombits(binary.BigEndian.Uint64(body)))
	case st >= 12 && st%2 == 0:
		return BlobValue(body)
	case st >= 13 && st%2 == 1:
		return TextValue(string(body))
	default:
		return NullValue()
	}
}

// DecodeRecord parses a complete in-memory record payload into its
// column values.
func DecodeRecord(data []byte) ([]Value, error) {
	rr, err := NewRecordReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	values := make([]Value, 0, rr.NumColumns())
	for {
		v, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// byteReaderFrom adapts an io.Reader to io.ByteReader when it doesn't
// already implement it.
func byteReaderFrom(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
