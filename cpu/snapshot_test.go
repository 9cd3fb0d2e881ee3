package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	assert := assert.New(t)

	source := []string{
		"    clr r24",
		"    ldi r16, 10",
		"loop:",
		"    rcall accumulate",
		"    dec r16",
		"    brne loop",
		"    halt",
		"accumulate:",
		"    add r24, r16",
		"    push r24",
		"    pop r25",
		"    ret",
	}

	p := boot(t, source...)
	for range 4 {
		p.Step(STATE_RETURN)
	}
	p.Step(STATE_CALL)

	data, err := EncodeSnapshot(p.Snapshot())
	assert.NoError(err)

	var snap Snapshot
	assert.NoError(DecodeSnapshot(data, &snap))

	q := boot(t, source...)
	err = q.Restore(snap)
	assert.NoError(err)
	assert.Equal(p.Snapshot(), q.Snapshot())
	assert.Equal(1, q.Frames.Depth())

	p.Step(STATE_HALTED)
	q.Step(STATE_HALTED)
	assert.Equal(uint8(55), q.R[24])
	assert.Equal(uint8(55), q.R[25])
	assert.Equal(p.Snapshot(), q.Snapshot())
}

func TestSnapshotVersion(t *testing.T) {
	assert := assert.New(t)

	p := NewProcessor(image{}, 0)
	snap := p.Snapshot()
	snap.Version = SNAPSHOT_VERSION + 1

	err := p.Restore(snap)
	assert.ErrorIs(err, ErrSnapshotVersion)

	err = DecodeSnapshot([]byte{0xff, 0x00}, &snap)
	assert.ErrorIs(err, ErrSnapshotDecode)
}

func TestEncodeSnapshot_Canonical(t *testing.T) {
	assert := assert.New(t)

	p := boot(t, "    ldi r24, 7", "    push r24", "    halt")
	p.Step(STATE_HALTED)

	data, err := EncodeSnapshot(p.Snapshot())
	assert.NoError(err)

	var snap Snapshot
	assert.NoError(DecodeSnapshot(data, &snap))

	again, err := EncodeSnapshot(&snap)
	assert.NoError(err)
	assert.Equal(data, again)

	// Map keys are sorted, so the version key leads the encoding.
	assert.Equal([]byte{0x01, SNAPSHOT_VERSION}, data[1:3])
}
