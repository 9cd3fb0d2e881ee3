// Package kernel ties the store, disk, file table, serial console and
// process table of one machine together.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"maps"

	"github.com/goldos/goldos/config"
	"github.com/goldos/goldos/cpu"
	"github.com/goldos/goldos/disk"
	"github.com/goldos/goldos/file"
	"github.com/goldos/goldos/internal"
	"github.com/goldos/goldos/process"
	"github.com/goldos/goldos/serial"
	"github.com/goldos/goldos/store"
)

const (
	FAILURE_8  = 0xff   // 8 bit syscall failure, -1.
	FAILURE_16 = 0xffff // 16 bit syscall failure, -1.
)

var _kernel_defines = map[string]string{
	"FAILURE_8":    fmt.Sprintf("0x%02x", FAILURE_8),
	"FAILURE_16":   fmt.Sprintf("0x%04x", FAILURE_16),
	"STRING_LIMIT": fmt.Sprintf("%d", cpu.STRING_LIMIT),
}

// Kernel state. Store + Disk + Files + Serial + Processes.
type Kernel struct {
	Verbose bool          // If set, enables verbose logging.
	Config  config.Config // Machine configuration.

	Store     *store.Store
	Disk      *disk.Disk
	Files     *file.Table
	Serial    *serial.Serial
	Processes *process.Table

	Tracer cpu.Tracer // Instruction trace for debug processes, may be nil.

	vector [cpu.VECTOR_COUNT]cpu.Syscall
}

// New creates a kernel for a machine configuration.
func New(cfg config.Config) (k *Kernel, err error) {
	err = cfg.Validate()
	if err != nil {
		return
	}

	st, err := store.New(cfg.Store.Size)
	if err != nil {
		return
	}

	d := disk.New(st)
	files := file.NewTable(d, cfg.Files.Capacity)

	k = &Kernel{
		Verbose:   cfg.Trace.Verbose,
		Config:    cfg,
		Store:     st,
		Disk:      d,
		Files:     files,
		Serial:    &serial.Serial{},
		Processes: process.NewTable(files, st, cfg.Processes.Slots),
	}

	d.Verbose = k.Verbose
	files.Verbose = k.Verbose
	k.Processes.Verbose = k.Verbose
	k.Processes.Setup = k.setup
	k.vector = k.syscalls()

	return
}

// Defines returns an iterator over all of the defines
func (k *Kernel) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(_kernel_defines),
		k.Store.Defines(),
		k.Disk.Defines(),
		k.Files.Defines(),
		k.Serial.Defines(),
		k.Processes.Defines(),
	)
}

// setup binds a new processor to the machine.
func (k *Kernel) setup(proc *process.Process) {
	p := proc.Processor
	p.Vector = k.vector
	p.Output = k.Serial
	if proc.Debug || k.Config.Trace.Instructions {
		p.Tracer = k.Tracer
	}
}

// Boot loads the store image. An unformatted disk is formatted when the
// configuration allows it.
func (k *Kernel) Boot() (err error) {
	err = k.Store.Load(k.Config.Store.Image)
	if err != nil {
		return
	}

	if !k.Disk.Formatted() {
		if !k.Config.Store.AutoFormat {
			err = disk.ErrUnformatted
			return
		}
		if k.Verbose {
			log.Printf("kernel: formatting %d byte store", k.Store.Size())
		}
		err = k.Disk.Format()
		if err != nil {
			return
		}
	}

	report, err := k.Disk.Inspect()
	if err != nil {
		return
	}

	if k.Verbose {
		log.Printf("kernel: booted %q, %d files, %d bytes free",
			k.Config.Store.Image, report.AllocatedBlocks, report.FreeBytes)
	}

	return
}

// Shutdown closes every process and saves the store image.
func (k *Kernel) Shutdown() (err error) {
	var errs []error
	for slot := range k.Processes.Processes() {
		errs = append(errs, k.Processes.Close(slot))
	}

	errs = append(errs, k.Store.Save(k.Config.Store.Image))

	err = errors.Join(errs...)
	return
}

// Assemble parses a program, with the machine defines predefined.
func (k *Kernel) Assemble(input io.Reader) (prog *cpu.Program, err error) {
	asm := &cpu.Assembler{Verbose: k.Verbose}
	for key, value := range k.Defines() {
		asm.Predefine(key, value)
	}

	prog, err = asm.Parse(input)
	return
}

// writeFile replaces the contents of a file.
func (k *Kernel) writeFile(name string, data []byte) (err error) {
	h, err := k.Files.Open(name, file.MODE_WRITE)
	if err != nil {
		return
	}

	n, err := k.Files.Write(h, data)
	if err == nil && n != len(data) {
		err = ErrShortWrite
	}

	err = errors.Join(err, k.Files.Close(h))
	return
}

// readFile returns the contents of a file.
func (k *Kernel) readFile(name string) (data []byte, err error) {
	h, err := k.Files.Open(name, file.MODE_READ)
	if err != nil {
		return
	}
	defer func() {
		err = errors.Join(err, k.Files.Close(h))
	}()

	size, err := k.Files.Size(h)
	if err != nil {
		return
	}

	data = make([]byte, size)
	n, err := k.Files.Read(h, data)
	if err == nil && n != len(data) {
		err = ErrShortRead
	}

	return
}

// Install writes an assembled program into a file.
func (k *Kernel) Install(name string, prog *cpu.Program) (err error) {
	bin := prog.Binary()

	err = k.writeFile(name, bin)
	if err != nil {
		err = &ErrInstall{Name: name, Err: err}
		return
	}

	if k.Verbose {
		log.Printf("kernel: installed %q, %d bytes", name, len(bin))
	}

	return
}

// Start launches a program without running it.
func (k *Kernel) Start(name string, debug bool) (slot int8, err error) {
	return k.Processes.Open(name, debug)
}

// Run runs a program to completion. A debug program is single stepped
// by commands read from step.
func (k *Kernel) Run(name string, debug bool, step io.ByteReader) (err error) {
	slot, err := k.Processes.Open(name, debug)
	if err != nil {
		return
	}

	err = k.Processes.Wait(slot, step)
	return
}

// RunAll schedules the open processes until none is left running, or
// until passes scheduler passes have run. Zero passes runs without limit.
// Sleeping processes stay open.
func (k *Kernel) RunAll(passes int) (err error) {
	var errs []error

	for pass := 0; k.Processes.Runnable(); pass++ {
		if passes > 0 && pass >= passes {
			break
		}
		errs = append(errs, k.Processes.Run())
	}

	err = errors.Join(errs...)
	return
}

// Hibernate saves a process into a file, and closes it.
func (k *Kernel) Hibernate(slot int8, name string) (err error) {
	data, err := k.Processes.Hibernate(slot)
	if err != nil {
		return
	}

	err = k.writeFile(name, data)
	if err != nil {
		err = &ErrInstall{Name: name, Err: err}
		return
	}

	if k.Verbose {
		log.Printf("kernel: hibernated slot %d to %q, %d bytes", slot, name, len(data))
	}

	return
}

// Resume reopens a process saved by Hibernate.
func (k *Kernel) Resume(name string) (slot int8, err error) {
	slot = -1

	data, err := k.readFile(name)
	if err != nil {
		return
	}

	slot, err = k.Processes.Resume(data)
	return
}
