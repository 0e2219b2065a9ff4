package core

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tensor  *Tensor
		wantErr bool
	}{
		{name: "nil tensor", tensor: nil, wantErr: true},
		{name: "zero dimension", tensor: &Tensor{Shape: []int{0, 2}}, wantErr: true},
		{name: "length mismatch", tensor: &Tensor{Shape: []int{2, 2}, Data: []float64{1, 2, 3}}, wantErr: true},
		{name: "nan value", tensor: &Tensor{Shape: []int{2}, Data: []float64{1, math.NaN()}}, wantErr: true},
		{name: "valid", tensor: &Tensor{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tensor.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTensorAligned(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 3, 8, 17, 1024} {
		tn := NewTensor(n)
		require.Len(t, tn.Data, n)
		assert.True(t, IsAligned(uintptr(unsafe.Pointer(&tn.Data[0]))), "n=%d not aligned", n)
		assert.Equal(t, n, cap(tn.Data))
	}
	assert.Nil(t, AlignedFloats(0))
}

func TestFromSliceShapeMismatch(t *testing.T) {
	t.Parallel()
	_, err := FromSlice([]float64{1, 2, 3}, 2, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	tn, err := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, tn.Data[3:])
	assert.Equal(t, 2, tn.Rank())
}

func TestTensorClone(t *testing.T) {
	t.Parallel()
	original, err := FromSlice([]float64{1, 2, 3, 4}, 4)
	require.NoError(t, err)

	clone := original.Clone()
	assert.True(t, clone.SameShape(original))
	assert.Equal(t, original.Data, clone.Data)

	clone.Data[0] = 99
	clone.Shape[0] = 7
	assert.Equal(t, 1.0, original.Data[0], "clone owns its data")
	assert.Equal(t, 4, original.Shape[0], "clone owns its shape")
}

func TestAlignHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 64, AlignSize(1, CacheLineSize))
	assert.Equal(t, 128, AlignSize(65, CacheLineSize))
	assert.Equal(t, 32, AlignSize(17, 32))
	assert.Equal(t, 8, ElementsPerLine(8))
	assert.Equal(t, 1, ElementsPerLine(128))
}

func TestWriteReadTensors(t *testing.T) {
	t.Parallel()
	a, _ := FromSlice([]float64{1.5, -2.25, math.Pi, 0, 1e-12, 7}, 2, 3)
	b, _ := FromSlice([]float64{42}, 1)
	in := []NamedTensor{{Name: "conv.weight", Tensor: a}, {Name: "fc.bias", Tensor: b}}

	var buf bytes.Buffer
	require.NoError(t, WriteTensors(&buf, in))
	assert.Equal(t, HeaderSize, binary.Size(SerializationHeader{}))

	out, err := ReadTensors(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.Equal(t, in[i].Tensor.Shape, out[i].Tensor.Shape)
		assert.Equal(t, in[i].Tensor.Data, out[i].Tensor.Data)
	}
}

func TestReadTensorsCorruption(t *testing.T) {
	t.Parallel()
	a, _ := FromSlice([]float64{1, 2, 3}, 3)
	var buf bytes.Buffer
	require.NoError(t, WriteTensors(&buf, []NamedTensor{{Name: "w", Tensor: a}}))
	raw := buf.Bytes()

	t.Run("flipped body byte", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[len(corrupt)-1] ^= 0xFF
		_, err := ReadTensors(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("bad magic", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[0] ^= 0xFF
		_, err := ReadTensors(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadTensors(bytes.NewReader(raw[:len(raw)-4]))
		assert.Error(t, err)
	})

	t.Run("length larger than stream", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[HeaderSize-1] = 0x40
		_, err := ReadTensors(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("length overflows int64", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[HeaderSize-1] = 0x80
		_, err := ReadTensors(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("shape larger than body", func(t *testing.T) {
		_, err := ReadTensors(bytes.NewReader(encodeStream(t, hugeShapeBody(), 1)))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("count larger than body", func(t *testing.T) {
		var body bytes.Buffer
		require.NoError(t, SerializeTensor(&body, NamedTensor{Name: "w", Tensor: a}))
		_, err := ReadTensors(bytes.NewReader(encodeStream(t, body.Bytes(), 1<<31)))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

// hugeShapeBody encodes a tensor header declaring 2^61 values and no data.
func hugeShapeBody() []byte {
	var body bytes.Buffer
	_ = binary.Write(&body, binary.LittleEndian, uint16(1))
	body.WriteString("w")
	body.WriteByte(2)
	_ = binary.Write(&body, binary.LittleEndian, []uint32{1 << 31, 1 << 30})
	return body.Bytes()
}

func encodeStream(t *testing.T, body []byte, count uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, SerializationHeader{
		Magic:    SerializationMagic,
		Version:  SerializationVersion,
		Count:    count,
		Checksum: crc32.ChecksumIEEE(body),
		Length:   uint64(len(body)),
	}))
	buf.Write(body)
	return buf.Bytes()
}

func TestSerializeTensorRejectsMismatch(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := SerializeTensor(&buf, NamedTensor{Name: "bad", Tensor: &Tensor{Shape: []int{3}, Data: []float64{1}}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
