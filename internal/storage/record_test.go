package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_RoundTrip(t *testing.T) {
	r := require.New(t)

	values := []Value{
		NullValue(),
		IntValue(42),
		IntValue(1000),
		RealValue(3.14),
		TextValue("Hello"),
		BlobValue([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
	}

	encoded := EncodeRecord(values)
	decoded, err := DecodeRecord(encoded)
	r.NoError(err)
	r.Len(decoded, len(values))

	expectedClasses := []StorageClass{ClassNull, ClassIntegral, ClassIntegral, ClassReal, ClassText, ClassBlob}
	for i, v := range decoded {
		r.Equal(expectedClasses[i], v.StorageClass(), "column %d", i)
	}

	r.Equal(int64(42), decoded[1].Int)
	r.Equal(int64(1000), decoded[2].Int)
	r.InDelta(3.14, decoded[3].Real, 1e-12)
	r.Equal("Hello", decoded[4].Text)
	r.Equal([]byte{0xDE, 0xAD, 0xBE, 0xEF}, decoded[5].Blob)
}

func TestRecord_NarrowestIntegerEncoding(t *testing.T) {
	r := require.New(t)

	st42, _ := serialTypeAndSize(IntValue(42))
	r.Equal(int64(serialInt8), st42)

	st1000, _ := serialTypeAndSize(IntValue(1000))
	r.Equal(int64(serialInt16), st1000)

	stZero, _ := serialTypeAndSize(IntValue(0))
	r.Equal(int64(serialZero), stZero)

	stBig, _ := serialTypeAndSize(IntValue(1 << 40))
	r.Equal(int64(serialInt48), stBig)
}

func TestRecord_SignExtension(t *testing.T) {
	r := require.New(t)

	values := []Value{IntValue(-1), IntValue(-8388608), IntValue(-140737488355328)}
	decoded, err := DecodeRecord(EncodeRecord(values))
	r.NoError(err)

	r.Equal(int64(-1), decoded[0].Int)
	r.Equal(int64(-8388608), decoded[1].Int)
	r.Equal(int64(-140737488355328), decoded[2].Int)
}

func TestRecord_EmptyRecord(t *testing.T) {
	r := require.New(t)
	decoded, err := DecodeRecord(EncodeRecord(nil))
	r.NoError(err)
	r.Empty(decoded)
}
