package process

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goldos/goldos/cpu"
	"github.com/goldos/goldos/disk"
	"github.com/goldos/goldos/file"
	"github.com/goldos/goldos/store"
)

var programs = map[string][]string{
	// 303 clocks
	"count": {
		"    rjmp main",
		".org 28",
		"main:",
		"    clr r24",
		"loop:",
		"    inc r24",
		"    cpi r24, 100",
		"    brne loop",
		"    halt",
	},
	"calls": {
		"    rjmp main",
		".org 28",
		"main:",
		"    rcall sub",
		"    rcall sub",
		"    halt",
		"sub:",
		"    inc r24",
		"    ret",
	},
	"fault": {
		"    rjmp main",
		".org 28",
		"main:",
		"    nop",
		"    .dw 0xffff",
	},
	"nested": {
		"    rjmp main",
		".org 28",
		"main:",
		"    rcall outer", // 28
		"    inc r24",     // 30
		"    halt",
		"outer:",
		"    inc r24",
		"    rcall inner", // 36
		"    ret",
		"inner:",
		"    inc r24",
		"    ret",
	},
	"deep": {
		"    rjmp main",
		".org 28",
		"main:",
		"    rcall sub", // 28
		"    halt",
		"sub:",
		"    rcall bad", // 32
		"    ret",
		"bad:",
		"    nop",
		"    .dw 0xffff", // 38
	},
	"echo": {
		"    rjmp main",
		".org 28",
		"main:",
		"    ldi r24, 'x'",
		"    out SERIAL, r24", // 30
		"    halt",
	},
}

var testPrograms = []string{"count", "calls", "fault", "nested", "deep", "echo"}

func install(t *testing.T, files *file.Table, name string, lines []string) {
	asm := &cpu.Assembler{}
	prog, err := asm.Parse(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		t.Fatal(err)
	}

	h, err := files.Open(name, file.MODE_WRITE)
	if err != nil {
		t.Fatal(err)
	}
	defer files.Close(h)

	_, err = files.Write(h, prog.Binary())
	if err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T) (tbl *Table) {
	st, err := store.New(1024)
	if err != nil {
		t.Fatal(err)
	}

	d := disk.New(st)
	err = d.Format()
	if err != nil {
		t.Fatal(err)
	}

	files := file.NewTable(d, file.DEFAULT_CAPACITY)
	for _, name := range testPrograms {
		install(t, files, name, programs[name])
	}

	tbl = NewTable(files, st, PROCESSES_SIZE)
	return
}

func TestOpen(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, err := tbl.Open("missing", false)
	assert.ErrorIs(err, file.ErrNotFound)
	assert.Equal(int8(-1), slot)

	var setups int
	tbl.Setup = func(proc *Process) {
		setups++
	}

	for n := range PROCESSES_SIZE {
		slot, err = tbl.Open("count", false)
		assert.NoError(err)
		assert.Equal(int8(n), slot)
	}
	assert.Equal(PROCESSES_SIZE, setups)

	_, err = tbl.Open("count", false)
	assert.ErrorIs(err, ErrTableFull)

	proc := &tbl.Slots[1]
	assert.Equal("count", proc.Name)
	assert.Equal(uint8(NICENESS_MIN), proc.Niceness)
	assert.Equal(STATE_RUNNING, proc.State)
	base, _ := tbl.Files.DataAddress(proc.File)
	assert.Equal(base, proc.Processor.ProgramBase)

	assert.NoError(tbl.Close(1))
	assert.ErrorIs(tbl.Close(1), ErrSlot)
	assert.ErrorIs(tbl.Close(-1), ErrSlot)
	assert.ErrorIs(tbl.Close(PROCESSES_SIZE), ErrSlot)

	// Closed slots are reused lowest first.
	slot, err = tbl.Open("calls", false)
	assert.NoError(err)
	assert.Equal(int8(1), slot)
}

func TestRun(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, err := tbl.Open("count", false)
	assert.NoError(err)
	p := tbl.Slots[slot].Processor
	h := tbl.Slots[slot].File

	assert.NoError(tbl.Run())
	assert.Equal(uint32(NICENESS_MIN<<QUANTUM_SHIFT), p.Ticks)

	// Clamped to the maximum.
	assert.NoError(tbl.Niceness(slot, 20))
	assert.Equal(uint8(NICENESS_MAX), tbl.Slots[slot].Niceness)

	assert.NoError(tbl.Run())
	assert.Equal(uint32(16+160), p.Ticks)
	assert.True(tbl.Running())

	// Halting closes the slot and its program file.
	assert.NoError(tbl.Run())
	assert.Equal(uint32(303), p.Ticks)
	assert.Equal(uint8(100), p.R[24])
	assert.False(tbl.Running())
	_, err = tbl.Files.Name(h)
	assert.ErrorIs(err, file.ErrHandle)
}

func TestNiceness(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, _ := tbl.Open("count", false)

	assert.NoError(tbl.Niceness(slot, 0))
	assert.Equal(uint8(NICENESS_MIN), tbl.Slots[slot].Niceness)

	assert.NoError(tbl.Niceness(slot, 4))
	assert.Equal(uint8(4), tbl.Slots[slot].Niceness)

	assert.ErrorIs(tbl.Niceness(2, 4), ErrSlot)
}

func TestSleepWake(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	a, _ := tbl.Open("count", false)
	b, _ := tbl.Open("count", false)

	assert.NoError(tbl.Sleep(a))
	assert.Equal(STATE_SLEEPING, tbl.Slots[a].State)

	assert.NoError(tbl.Run())
	assert.Equal(uint32(0), tbl.Slots[a].Processor.Ticks)
	assert.Equal(uint32(16), tbl.Slots[b].Processor.Ticks)

	assert.NoError(tbl.Wake(a))
	assert.NoError(tbl.Run())
	assert.Equal(uint32(16), tbl.Slots[a].Processor.Ticks)
	assert.Equal(uint32(32), tbl.Slots[b].Processor.Ticks)

	assert.ErrorIs(tbl.Sleep(2), ErrSlot)
	assert.ErrorIs(tbl.Wake(2), ErrSlot)
}

func TestWait(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		commands string
		debug    bool
		ticks    uint32
		r24      uint8
	}{
		{"", false, 8, 2},
		{"sq", false, 8, 2},
		{"", true, 8, 2},
		{"sq", true, 3, 1},
		{"er", true, 8, 2},
		{"e", true, 8, 2},
		{"ese", true, 8, 2},
		{"q", true, 1, 0},
		{"xxq", true, 3, 1},
	}

	for _, entry := range table {
		tbl := setup(t)

		slot, err := tbl.Open("calls", entry.debug)
		assert.NoError(err)
		p := tbl.Slots[slot].Processor

		err = tbl.Wait(slot, strings.NewReader(entry.commands))
		assert.NoError(err, entry.commands)
		assert.Equal(entry.ticks, p.Ticks, entry.commands)
		assert.Equal(entry.r24, p.R[24], entry.commands)
		assert.False(tbl.Running())
	}

	tbl := setup(t)
	assert.ErrorIs(tbl.Wait(0, nil), ErrSlot)
}

func TestWait_Finish(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		commands string
		ticks    uint32
		r24      uint8
	}{
		// 'e' inside outer runs through the call to inner.
		{"seq", 8, 3},
		// 'e' inside inner stops on its return to outer.
		{"sseq", 7, 2},
		// Outside of any call, 'e' runs to the end.
		{"eq", 9, 3},
	}

	for _, entry := range table {
		tbl := setup(t)

		slot, err := tbl.Open("nested", true)
		assert.NoError(err)
		p := tbl.Slots[slot].Processor

		err = tbl.Wait(slot, strings.NewReader(entry.commands))
		assert.NoError(err, entry.commands)
		assert.Equal(entry.ticks, p.Ticks, entry.commands)
		assert.Equal(entry.r24, p.R[24], entry.commands)
		assert.True(p.Frames.Empty(), entry.commands)
	}
}

func TestFault(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, _ := tbl.Open("fault", false)
	err := tbl.Wait(slot, nil)

	var runtime *ErrRuntime
	if assert.True(errors.As(err, &runtime)) {
		assert.Equal("fault", runtime.Name)
		assert.Equal(uint16(30), runtime.PC)
	}
	assert.ErrorIs(err, cpu.ErrOpcode(0xffff))
	assert.False(tbl.Running())

	slot, _ = tbl.Open("fault", false)
	err = tbl.Run()
	assert.True(errors.As(err, &runtime))
	assert.False(tbl.Running())

	slot, _ = tbl.Open("deep", false)
	err = tbl.Wait(slot, nil)
	if assert.True(errors.As(err, &runtime)) {
		assert.Equal(uint16(38), runtime.PC)
		assert.Equal([]uint16{34, 30}, runtime.Backtrace)
		assert.Contains(err.Error(), "called from [0022 001e]")
	}
}

type brokenPort struct{}

var errBroken = errors.New("port broken")

func (brokenPort) WriteByte(c byte) error {
	return errBroken
}

func TestOutputFault(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)
	tbl.Setup = func(proc *Process) {
		proc.Processor.Output = brokenPort{}
	}

	slot, _ := tbl.Open("echo", false)
	p := tbl.Slots[slot].Processor
	err := tbl.Wait(slot, nil)

	var runtime *ErrRuntime
	if assert.True(errors.As(err, &runtime)) {
		assert.Equal("echo", runtime.Name)
		assert.Equal(uint16(30), runtime.PC)
		assert.Empty(runtime.Backtrace)
	}
	assert.ErrorIs(err, errBroken)
	assert.Nil(p.OutputErr)
	assert.False(tbl.Running())
}

func TestHibernate(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, _ := tbl.Open("count", false)
	assert.NoError(tbl.Niceness(slot, 3))
	assert.NoError(tbl.Run())

	data, err := tbl.Hibernate(slot)
	assert.NoError(err)
	assert.False(tbl.Running())

	var snap Snapshot
	assert.NoError(cpu.DecodeSnapshot(data, &snap))
	again, err := cpu.EncodeSnapshot(&snap)
	assert.NoError(err)
	assert.Equal(data, again)

	slot, err = tbl.Resume(data)
	assert.NoError(err)
	proc := &tbl.Slots[slot]
	assert.Equal(uint8(3), proc.Niceness)
	assert.Equal(uint32(48), proc.Processor.Ticks)

	p := proc.Processor
	assert.NoError(tbl.Wait(slot, nil))
	assert.Equal(uint32(303), p.Ticks)
	assert.Equal(uint8(100), p.R[24])

	_, err = tbl.Resume([]byte{0xff})
	assert.ErrorIs(err, ErrSnapshot)
	assert.ErrorIs(err, cpu.ErrSnapshotDecode)
}

func TestRebase(t *testing.T) {
	assert := assert.New(t)

	tbl := setup(t)

	slot, _ := tbl.Open("count", false)
	proc := &tbl.Slots[slot]
	old_base := proc.Processor.ProgramBase

	// Growing the program file moves it past the files behind it.
	h, err := tbl.Files.Open("count", file.MODE_APPEND)
	assert.NoError(err)
	_, err = tbl.Files.Write(h, make([]byte, 64))
	assert.NoError(err)
	assert.NoError(tbl.Files.Close(h))

	base, _ := tbl.Files.DataAddress(proc.File)
	assert.NotEqual(old_base, base)

	p := proc.Processor
	assert.NoError(tbl.Wait(slot, nil))
	assert.Equal(base, p.ProgramBase)
	assert.Equal(uint8(100), p.R[24])
}
