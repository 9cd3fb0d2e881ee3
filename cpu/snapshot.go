package cpu

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const SNAPSHOT_VERSION = 1

// Snapshot is the serializable state of a processor.
type Snapshot struct {
	Version     uint8   `cbor:"1,keyasint"`
	R           []byte  `cbor:"2,keyasint"`
	SREG        uint8   `cbor:"3,keyasint"`
	SP          uint16  `cbor:"4,keyasint"`
	RAM         []byte  `cbor:"5,keyasint"`
	PC          uint16  `cbor:"6,keyasint"`
	ProgramBase uint16  `cbor:"7,keyasint"`
	Running     bool    `cbor:"8,keyasint"`
	Ticks       uint32  `cbor:"9,keyasint"`
	Frames      []Frame `cbor:"10,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// Snapshot captures the processor state. Bus, output, tracer and syscall
// vector are not part of it.
func (p *Processor) Snapshot() (snap Snapshot) {
	snap = Snapshot{
		Version:     SNAPSHOT_VERSION,
		R:           append([]byte(nil), p.R[:]...),
		SREG:        p.SREG,
		SP:          p.SP,
		RAM:         append([]byte(nil), p.RAM[:]...),
		PC:          p.PC,
		ProgramBase: p.ProgramBase,
		Running:     p.Running,
		Ticks:       p.Ticks,
		Frames:      append([]Frame(nil), p.Frames.Data...),
	}

	return
}

// Restore sets the processor state from a snapshot.
func (p *Processor) Restore(snap Snapshot) (err error) {
	if snap.Version != SNAPSHOT_VERSION {
		err = fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
		return
	}

	copy(p.R[:], snap.R)
	p.SREG = snap.SREG
	p.SP = snap.SP
	copy(p.RAM[:], snap.RAM)
	p.PC = snap.PC
	p.ProgramBase = snap.ProgramBase
	p.Running = snap.Running
	p.Ticks = snap.Ticks
	p.Frames.Data = append(p.Frames.Data[:0], snap.Frames...)

	return
}

// EncodeSnapshot serializes a snapshot, or a record embedding one, to
// canonical CBOR. Equal states always encode to equal bytes.
func EncodeSnapshot(v any) (data []byte, err error) {
	data, err = cborEncMode.Marshal(v)
	return
}

// DecodeSnapshot deserializes CBOR written by EncodeSnapshot into v.
func DecodeSnapshot(data []byte, v any) (err error) {
	err = cbor.Unmarshal(data, v)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSnapshotDecode, err)
	}
	return
}
