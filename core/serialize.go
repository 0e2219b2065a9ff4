package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// NamedTensor pairs a tensor with the name it is stored under.
type NamedTensor struct {
	Name   string
	Tensor *Tensor
}

// SerializationHeader provides metadata for serialized data
type SerializationHeader struct {
	Magic    uint32 // "WSTN" magic number
	Version  uint16 // format version
	Count    uint32 // number of tensors
	Checksum uint32 // CRC32 (IEEE) of the body
	Length   uint64 // body length in bytes
}

const (
	SerializationMagic   = 0x4E545357 // "WSTN" in little endian
	SerializationVersion = 1
	HeaderSize           = 22 // binary.Size(SerializationHeader{})

	maxRank = 8

	// minTensorSize is the encoding of an unnamed rank-0 tensor without data.
	minTensorSize = 3
)

var (
	// ErrBadMagic is returned when the stream does not start with SerializationMagic.
	ErrBadMagic = errors.New("invalid magic number")
	// ErrChecksum is returned when the body does not match the header checksum.
	ErrChecksum = errors.New("data corruption detected")
	// ErrMalformed is returned when a checksummed body does not decode.
	ErrMalformed = errors.New("malformed tensor stream")
)

// SerializeTensor writes a single tensor.
// Layout: [len(Name)(2)][Name][rank(1)][dims(4*rank)][data(8*n)]
func SerializeTensor(buf *bytes.Buffer, nt NamedTensor) error {
	if len(nt.Name) > math.MaxUint16 {
		return fmt.Errorf("tensor name too long: %d bytes", len(nt.Name))
	}
	if nt.Tensor == nil {
		return fmt.Errorf("tensor %q is nil", nt.Name)
	}
	if nt.Tensor.Rank() > maxRank {
		return fmt.Errorf("tensor %q rank %d exceeds %d", nt.Name, nt.Tensor.Rank(), maxRank)
	}
	if NumElements(nt.Tensor.Shape) != len(nt.Tensor.Data) {
		return fmt.Errorf("tensor %q: %w", nt.Name, ErrShapeMismatch)
	}

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(nt.Name))); err != nil {
		return err
	}
	buf.WriteString(nt.Name)
	buf.WriteByte(uint8(len(nt.Tensor.Shape)))
	for _, d := range nt.Tensor.Shape {
		if err := binary.Write(buf, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}

	var scratch [8]byte
	for _, v := range nt.Tensor.Data {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		buf.Write(scratch[:])
	}
	return nil
}

// DeserializeTensor reads a single tensor written by SerializeTensor.
func DeserializeTensor(r *bytes.Reader) (NamedTensor, error) {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return NamedTensor{}, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return NamedTensor{}, err
	}

	rank, err := r.ReadByte()
	if err != nil {
		return NamedTensor{}, err
	}
	if rank > maxRank {
		return NamedTensor{}, fmt.Errorf("tensor %q rank %d exceeds %d", name, rank, maxRank)
	}
	shape := make([]int, rank)
	n := 1
	for i := range shape {
		var d uint32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return NamedTensor{}, err
		}
		// n·d must fit in what is left of the body, checked without overflow.
		limit := r.Len() / float64Size
		if uint64(d) > uint64(limit) || (d > 0 && n > limit/int(d)) {
			return NamedTensor{}, fmt.Errorf("%w: tensor %q shape exceeds remaining %d bytes", ErrMalformed, name, r.Len())
		}
		shape[i] = int(d)
		n *= shape[i]
	}
	if n > r.Len()/float64Size {
		return NamedTensor{}, fmt.Errorf("%w: tensor %q: %d values exceed remaining %d bytes", ErrMalformed, name, n, r.Len())
	}
	t := NewTensor(shape...)
	var scratch [8]byte
	for i := range t.Data {
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return NamedTensor{}, err
		}
		t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(scratch[:]))
	}
	return NamedTensor{Name: string(name), Tensor: t}, nil
}

// WriteTensors writes a header followed by every tensor, with a checksum over the body.
func WriteTensors(w io.Writer, tensors []NamedTensor) error {
	var body bytes.Buffer
	for _, nt := range tensors {
		if err := SerializeTensor(&body, nt); err != nil {
			return err
		}
	}

	header := SerializationHeader{
		Magic:    SerializationMagic,
		Version:  SerializationVersion,
		Count:    uint32(len(tensors)),
		Checksum: crc32.ChecksumIEEE(body.Bytes()),
		Length:   uint64(body.Len()),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// ReadTensors reads a stream written by WriteTensors and verifies its checksum.
func ReadTensors(r io.Reader) ([]NamedTensor, error) {
	var header SerializationHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != SerializationMagic {
		return nil, ErrBadMagic
	}
	if header.Version != SerializationVersion {
		return nil, fmt.Errorf("unsupported serialization version %d", header.Version)
	}

	if header.Length > math.MaxInt64 {
		return nil, fmt.Errorf("%w: body length %d", ErrMalformed, header.Length)
	}
	// The buffer grows with what the stream actually holds, not with Length.
	var body bytes.Buffer
	if _, err := io.CopyN(&body, r, int64(header.Length)); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if crc32.ChecksumIEEE(body.Bytes()) != header.Checksum {
		return nil, ErrChecksum
	}
	if uint64(header.Count) > header.Length/minTensorSize {
		return nil, fmt.Errorf("%w: %d tensors in %d bytes", ErrMalformed, header.Count, header.Length)
	}

	br := bytes.NewReader(body.Bytes())
	tensors := make([]NamedTensor, 0, header.Count)
	for i := uint32(0); i < header.Count; i++ {
		nt, err := DeserializeTensor(br)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		tensors = append(tensors, nt)
	}
	return tensors, nil
}
