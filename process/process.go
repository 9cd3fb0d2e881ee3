// Package process schedules guest programs. Each slot owns a processor
// running a program straight out of its file on the disk; every slot
// shares the store and the open file table.
package process

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"maps"

	"github.com/goldos/goldos/cpu"
	"github.com/goldos/goldos/file"
)

const (
	PROCESSES_SIZE = 3 // Default slot count.
	NICENESS_MIN   = 1
	NICENESS_MAX   = 10
	QUANTUM_SHIFT  = 4 // Clocks per pass are niceness << QUANTUM_SHIFT.
)

// State is the scheduling state of a slot.
type State uint8

//go:generate go tool stringer -linecomment -type=State
const (
	STATE_RUNNING  = State(iota) // running
	STATE_SLEEPING               // sleeping
)

// Process is one slot of the table. A zero Niceness marks the slot free.
type Process struct {
	Name      string
	Niceness  uint8
	File      int8 // Read handle of the program file.
	State     State
	Debug     bool
	Processor *cpu.Processor
}

// Table is the process table.
type Table struct {
	Verbose bool
	Files   *file.Table
	Bus     cpu.Bus              // Program memory, usually the store.
	Setup   func(proc *Process) // Called on every new processor.
	Slots   []Process
}

// NewTable creates a process table with slots entries.
func NewTable(files *file.Table, bus cpu.Bus, slots int) (tbl *Table) {
	if slots <= 0 {
		slots = PROCESSES_SIZE
	}

	tbl = &Table{
		Files: files,
		Bus:   bus,
		Slots: make([]Process, slots),
	}

	return
}

// Defines returns an iter of assembler defines for the process table.
func (tbl *Table) Defines() iter.Seq2[string, string] {
	return maps.All(map[string]string{
		"PROCESSES_SIZE": fmt.Sprintf("%d", len(tbl.Slots)),
		"NICENESS_MAX":   fmt.Sprintf("%d", NICENESS_MAX),
	})
}

// process returns an open slot.
func (tbl *Table) process(slot int8) (proc *Process, err error) {
	if slot < 0 || int(slot) >= len(tbl.Slots) || tbl.Slots[slot].Niceness == 0 {
		err = fmt.Errorf("%w: %d", ErrSlot, slot)
		return
	}

	proc = &tbl.Slots[slot]
	return
}

// Processes returns an iterator over the open slots.
func (tbl *Table) Processes() iter.Seq2[int8, *Process] {
	return func(yield func(slot int8, proc *Process) bool) {
		for n := range tbl.Slots {
			if tbl.Slots[n].Niceness == 0 {
				continue
			}
			if !yield(int8(n), &tbl.Slots[n]) {
				return
			}
		}
	}
}

// Open launches the named program in the lowest free slot.
func (tbl *Table) Open(name string, debug bool) (slot int8, err error) {
	slot = -1

	for n := range tbl.Slots {
		if tbl.Slots[n].Niceness != 0 {
			continue
		}

		var h int8
		h, err = tbl.Files.Open(name, file.MODE_READ)
		if err != nil {
			return
		}

		var base uint16
		base, err = tbl.Files.DataAddress(h)
		if err != nil {
			err = errors.Join(err, tbl.Files.Close(h))
			return
		}

		proc := &tbl.Slots[n]
		*proc = Process{
			Name:      name,
			Niceness:  NICENESS_MIN,
			File:      h,
			State:     STATE_RUNNING,
			Debug:     debug,
			Processor: cpu.NewProcessor(tbl.Bus, base),
		}
		proc.Processor.Verbose = tbl.Verbose
		if tbl.Setup != nil {
			tbl.Setup(proc)
		}

		slot = int8(n)
		if tbl.Verbose {
			log.Printf("process: open %q as %d, base 0x%04x", name, slot, base)
		}
		return
	}

	err = ErrTableFull
	return
}

// Sleep stops scheduling a process.
func (tbl *Table) Sleep(slot int8) (err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	proc.State = STATE_SLEEPING
	return
}

// Wake resumes scheduling a process.
func (tbl *Table) Wake(slot int8) (err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	proc.State = STATE_RUNNING
	return
}

// Niceness sets the scheduling weight, clamped to 1..10.
func (tbl *Table) Niceness(slot int8, niceness uint8) (err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	proc.Niceness = min(max(niceness, NICENESS_MIN), NICENESS_MAX)
	return
}

// Close discards a process and closes its program file.
func (tbl *Table) Close(slot int8) (err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	if tbl.Verbose {
		log.Printf("process: close %q slot %d after %d clocks", proc.Name, slot, proc.Processor.Ticks)
	}

	err = tbl.Files.Close(proc.File)
	*proc = Process{}

	return
}

// rebase follows the program file, which moves when another file on the
// disk grows into its place.
func (tbl *Table) rebase(proc *Process) {
	base, err := tbl.Files.DataAddress(proc.File)
	if err == nil {
		proc.Processor.ProgramBase = base
	}
}

// check returns a fault when the last clock hit an undecodable
// instruction, or failed to write the serial port.
func (proc *Process) check(state cpu.State) (err error) {
	p := proc.Processor
	pc := p.PC - 2

	var fault error
	switch {
	case state == cpu.STATE_UNKNOWN:
		fault = cpu.ErrOpcode(p.Bus.LoadWord(p.ProgramBase + pc))
	case p.OutputErr != nil:
		fault = p.TakeOutputErr()
	default:
		return
	}

	err = &ErrRuntime{
		Name:      proc.Name,
		PC:        pc,
		Backtrace: p.Backtrace(),
		Err:       fault,
	}
	return
}

// Run gives every running process one quantum. Processes that stop are
// closed, and their faults returned.
func (tbl *Table) Run() (err error) {
	var errs []error

	for n := range tbl.Slots {
		proc := &tbl.Slots[n]
		if proc.Niceness == 0 || proc.State != STATE_RUNNING {
			continue
		}

		tbl.rebase(proc)
		for range int(proc.Niceness) << QUANTUM_SHIFT {
			fault := proc.check(proc.Processor.Clock())
			if fault != nil {
				errs = append(errs, fault)
			}
			if !proc.Processor.Running {
				errs = append(errs, tbl.Close(int8(n)))
				break
			}
		}
	}

	err = errors.Join(errs...)
	return
}

// Running returns true while any process is open.
func (tbl *Table) Running() bool {
	for range tbl.Processes() {
		return true
	}
	return false
}

// Runnable returns true while any open process is scheduled to run.
func (tbl *Table) Runnable() bool {
	for _, proc := range tbl.Processes() {
		if proc.State == STATE_RUNNING {
			return true
		}
	}
	return false
}

// Wait runs one process until it stops, then closes it. A debug process
// reads a command from step after every clock: 's' runs to the next
// call, 'e' to the return of the current subroutine, 'r' to the end and
// 'q' quits. When step
// is nil or runs dry, the process runs to the end.
func (tbl *Table) Wait(slot int8, step io.ByteReader) (err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	tbl.rebase(proc)

	p := proc.Processor
	run_to_close := !proc.Debug || step == nil
	for p.Running && err == nil {
		err = proc.check(p.Clock())
		if err != nil || run_to_close || !p.Running {
			continue
		}

		c, rerr := step.ReadByte()
		if rerr != nil {
			run_to_close = true
			continue
		}

		switch c {
		case 's':
			err = proc.check(p.Step(cpu.STATE_CALL))
		case 'e':
			err = proc.check(p.Finish())
		case 'r':
			run_to_close = true
		case 'q':
			p.Running = false
		}
	}

	err = errors.Join(err, tbl.Close(slot))
	return
}

// Snapshot is the serialized form of a hibernated process.
type Snapshot struct {
	Name      string       `cbor:"1,keyasint"`
	Niceness  uint8        `cbor:"2,keyasint"`
	State     State        `cbor:"3,keyasint"`
	Debug     bool         `cbor:"4,keyasint,omitempty"`
	Processor cpu.Snapshot `cbor:"5,keyasint"`
}

// Hibernate serializes a process to canonical CBOR and closes it.
func (tbl *Table) Hibernate(slot int8) (data []byte, err error) {
	proc, err := tbl.process(slot)
	if err != nil {
		return
	}

	snap := Snapshot{
		Name:      proc.Name,
		Niceness:  proc.Niceness,
		State:     proc.State,
		Debug:     proc.Debug,
		Processor: proc.Processor.Snapshot(),
	}

	data, err = cpu.EncodeSnapshot(&snap)
	if err != nil {
		return
	}

	err = tbl.Close(slot)
	return
}

// Resume reopens a hibernated process.
func (tbl *Table) Resume(data []byte) (slot int8, err error) {
	slot = -1

	var snap Snapshot
	err = cpu.DecodeSnapshot(data, &snap)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSnapshot, err)
		return
	}

	opened, err := tbl.Open(snap.Name, snap.Debug)
	if err != nil {
		return
	}

	proc := &tbl.Slots[opened]
	err = proc.Processor.Restore(snap.Processor)
	if err != nil {
		err = errors.Join(err, tbl.Close(opened))
		return
	}

	proc.Niceness = min(max(snap.Niceness, NICENESS_MIN), NICENESS_MAX)
	proc.State = snap.State
	tbl.rebase(proc)

	slot = opened
	return
}
