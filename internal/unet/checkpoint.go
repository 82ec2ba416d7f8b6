package unet

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/banshee-data/woodland.report/internal/features"
)

// Checkpoint file layout: the 4-byte magic "WMCK", a little-endian uint16
// format version, then a gzip stream holding one gob-encoded Checkpoint.
const (
	checkpointMagic   = "WMCK"
	CheckpointVersion = uint16(1)
	CheckpointExt     = ".wmck"
)

// ErrBadMagic is returned when a file is not a checkpoint.
var ErrBadMagic = errors.New("not a woodmap checkpoint")

// Contract is the input contract a model was trained under. Inference must
// present exactly these channels, in this order.
type Contract struct {
	Channels  features.ChannelSet
	PatchSize int
}

// Checkpoint is an immutable snapshot of a training run.
type Checkpoint struct {
	Arch     Arch
	Contract Contract
	Params   [][]float32

	AdamT int
	AdamM [][]float32
	AdamV [][]float32

	Epoch    int
	Step     int
	Loss     float64
	BestLoss float64

	RunID        string
	BuildVersion string
	CreatedAt    time.Time
}

// ContractError reports a checkpoint whose channel contract does not match
// the requested input. It is never recoverable.
type ContractError struct {
	Field string
	Want  string
	Got   string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("checkpoint contract mismatch: %s: checkpoint has %s, input has %s", e.Field, e.Want, e.Got)
}

// Verify checks set and, when positive, patch against the contract.
func (ck *Checkpoint) Verify(set features.ChannelSet, patch int) error {
	want := ck.Contract.Channels
	switch {
	case want.Len() != set.Len():
		return &ContractError{Field: "channel count", Want: fmt.Sprint(want.Len()), Got: fmt.Sprint(set.Len())}
	case want.ID != set.ID:
		return &ContractError{Field: "channel set", Want: want.ID, Got: set.ID}
	case !slices.Equal(want.Names, set.Names):
		return &ContractError{Field: "channel order", Want: fmt.Sprint(want.Names), Got: fmt.Sprint(set.Names)}
	case ck.Arch.InChannels != set.Len():
		return &ContractError{Field: "model input channels", Want: fmt.Sprint(ck.Arch.InChannels), Got: fmt.Sprint(set.Len())}
	case patch > 0 && patch != ck.Contract.PatchSize:
		return &ContractError{Field: "patch size", Want: fmt.Sprint(ck.Contract.PatchSize), Got: fmt.Sprint(patch)}
	}
	return nil
}

// Model rebuilds the network stored in the checkpoint.
func (ck *Checkpoint) Model() (*Model, error) {
	m, err := New(ck.Arch, 0)
	if err != nil {
		return nil, fmt.Errorf("checkpoint architecture: %w", err)
	}
	if err := m.SetParams(ck.Params); err != nil {
		return nil, fmt.Errorf("checkpoint weights: %w", err)
	}
	return m, nil
}

// Optimizer rebuilds the optimiser state for m.
func (ck *Checkpoint) Optimizer(m *Model, lr float64) (*Adam, error) {
	a := NewAdam(m, lr)
	if ck.AdamT == 0 && ck.AdamM == nil {
		return a, nil
	}
	if err := a.Restore(ck.AdamT, ck.AdamM, ck.AdamV); err != nil {
		return nil, fmt.Errorf("checkpoint optimiser: %w", err)
	}
	return a, nil
}

// Save writes ck to w.
func Save(w io.Writer, ck *Checkpoint) error {
	var hdr [6]byte
	copy(hdr[:4], checkpointMagic)
	binary.LittleEndian.PutUint16(hdr[4:], CheckpointVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}
	zw := gzip.NewWriter(w)
	if err := gob.NewEncoder(zw).Encode(ck); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress checkpoint: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of ck.
func Marshal(ck *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, ck); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a checkpoint and checks that its weights fit its architecture.
func Load(r io.Reader) (*Checkpoint, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(hdr[:4]) != checkpointMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (want %d)", v, CheckpointVersion)
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint: %w", err)
	}
	defer zr.Close()
	ck := &Checkpoint{}
	if err := gob.NewDecoder(zr).Decode(ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if _, err := ck.Model(); err != nil {
		return nil, err
	}
	return ck, nil
}
