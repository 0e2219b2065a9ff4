package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sbl8/wearsense/core"
	"github.com/sbl8/wearsense/dataset"
)

const (
	checkpointMagic   = 0x4B435357 // "WSCK"
	checkpointVersion = 1
	maxMetadataSize   = 16 << 20
)

// ErrCorruptCheckpoint is returned when a checkpoint cannot be decoded.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Metadata describes how the model's inputs were produced, so a loaded
// checkpoint can rebuild identical sequences.
type Metadata struct {
	RunID        string                `json:"run_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	Config       Config                `json:"config"`
	Features     []string              `json:"features"`
	Targets      []string              `json:"targets"`
	Thresholds   map[string]float64    `json:"thresholds,omitempty"`
	MaxLen       int                   `json:"max_len"`
	Standardizer *dataset.Standardizer `json:"standardizer,omitempty"`
}

// WriteCheckpoint writes the model and metadata.
// Layout: [magic(4)][version(2)][len(meta)(4)][meta JSON][core tensor stream]
func WriteCheckpoint(w io.Writer, m *CNNGRU, meta Metadata) error {
	meta.Config = m.cfg
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(checkpointMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(checkpointVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(raw))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}

	tensors := make([]core.NamedTensor, len(m.params))
	for i, p := range m.params {
		tensors[i] = core.NamedTensor{Name: p.Name, Tensor: p.Value}
	}
	return core.WriteTensors(w, tensors)
}

// ReadCheckpoint decodes a checkpoint written by WriteCheckpoint.
func ReadCheckpoint(r io.Reader) (*CNNGRU, Metadata, error) {
	var meta Metadata

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if magic != checkpointMagic {
		return nil, meta, fmt.Errorf("%w: invalid magic number %x", ErrCorruptCheckpoint, magic)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if version != checkpointVersion {
		return nil, meta, fmt.Errorf("%w: unsupported version %d", ErrCorruptCheckpoint, version)
	}

	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if metaLen > maxMetadataSize {
		return nil, meta, fmt.Errorf("%w: metadata size %d", ErrCorruptCheckpoint, metaLen)
	}
	raw := make([]byte, metaLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, meta, fmt.Errorf("%w: metadata: %v", ErrCorruptCheckpoint, err)
	}
	if err := meta.Config.Validate(); err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}

	tensors, err := core.ReadTensors(r)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}

	// The metadata is outside the checksum, so its sizes are checked against
	// the tensors before anything is allocated from them.
	stored := 0
	for _, nt := range tensors {
		stored += nt.Tensor.Len()
	}
	if want := paramCount(meta.Config, stored); want != stored {
		return nil, meta, fmt.Errorf("%w: config implies %d parameters, found %d", ErrCorruptCheckpoint, want, stored)
	}

	m := newUninitialized(meta.Config, 0)
	byName := make(map[string]*core.Tensor, len(tensors))
	for _, nt := range tensors {
		byName[nt.Name] = nt.Tensor
	}
	for _, p := range m.params {
		t, ok := byName[p.Name]
		if !ok {
			return nil, meta, fmt.Errorf("%w: missing tensor %s", ErrCorruptCheckpoint, p.Name)
		}
		if !t.SameShape(p.Value) {
			return nil, meta, fmt.Errorf("%w: tensor %s has shape %v, want %v", ErrCorruptCheckpoint, p.Name, t.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, t.Data)
	}
	return m, meta, nil
}

// paramCount returns the number of scalars cfg needs, or -1 if any dimension
// exceeds limit.
func paramCount(cfg Config, limit int) int {
	c, k, f := cfg.CNNOutChannels, cfg.CNNKernelSize, cfg.InputDim
	h, o := cfg.GRUHiddenDim, cfg.OutputDim
	if max(c, k, f, h, o) > limit || k > limit/f {
		return -1
	}
	return c*k*f + c + 3*h*c + 3*h*h + 6*h + o*h + o
}

// SaveCheckpoint writes a checkpoint file, creating parent directories.
func SaveCheckpoint(path string, m *CNNGRU, meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteCheckpoint(bw, m, meta); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*CNNGRU, Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()
	return ReadCheckpoint(bufio.NewReader(f))
}
