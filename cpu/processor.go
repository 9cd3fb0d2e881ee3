package cpu

import (
	"fmt"
	"io"
	"iter"
	"log"
	"maps"
	"slices"
	"strings"
)

// Data space layout.
const (
	REGISTER_COUNT = 32
	IO_BASE        = 0x20 // Data address of I/O register 0.
	IO_SERIAL      = 0x0f // Character output.
	IO_SPL         = 0x3d
	IO_SPH         = 0x3e
	IO_SREG        = 0x3f
	RAM_BASE       = IO_BASE + 0x40
	RAM_SIZE       = 128
	RAM_END        = RAM_BASE + RAM_SIZE - 1
	SP_RESET       = RAM_END
	SP_HIGH_MASK   = 0b11 // SPH holds two bits.
)

// Index register pairs.
const (
	REG_X = 26
	REG_Y = 28
	REG_Z = 30
)

// Status register bits.
const (
	FLAG_C = 0 // Carry
	FLAG_Z = 1 // Zero
	FLAG_N = 2 // Negative
	FLAG_V = 3 // Overflow
	FLAG_S = 4 // Sign
	FLAG_H = 5 // Half carry
	FLAG_T = 6 // Bit copy
	FLAG_I = 7 // Interrupt enable
)

const flagNames = "CZNVSHTI"

var _cpu_defines = map[string]string{
	"SERIAL":   fmt.Sprintf("0x%02x", IO_SERIAL),
	"SPL":      fmt.Sprintf("0x%02x", IO_SPL),
	"SPH":      fmt.Sprintf("0x%02x", IO_SPH),
	"SREG":     fmt.Sprintf("0x%02x", IO_SREG),
	"RAMSTART": fmt.Sprintf("0x%02x", RAM_BASE),
	"RAMEND":   fmt.Sprintf("0x%02x", RAM_END),
	"XL":       "r26",
	"XH":       "r27",
	"YL":       "r28",
	"YH":       "r29",
	"ZL":       "r30",
	"ZH":       "r31",
}

// State classifies what a single clock did: a plain instruction, a
// subroutine call, a subroutine or syscall return, the halt sentinel (or
// a processor that is not running), or an undecodable instruction that
// halted the processor.
type State int

//go:generate go tool stringer -linecomment -type=State
const (
	STATE_STEP    = State(iota) // step
	STATE_CALL                  // call
	STATE_RETURN                // return
	STATE_HALTED                // halted
	STATE_UNKNOWN               // unknown
)

// Bus is the program memory a processor executes from.
type Bus interface {
	LoadByte(addr uint16) byte
	LoadWord(addr uint16) uint16
}

// Syscall is a host function bound to a syscall vector address.
type Syscall func(p *Processor)

// Processor is the state of one executing program.
type Processor struct {
	Verbose bool // Set to enable verbose logging.

	Bus    Bus            // Program memory.
	Output io.ByteWriter  // Character output port.
	Tracer Tracer         // Instruction trace, may be nil.
	Vector [VECTOR_COUNT]Syscall

	R           [REGISTER_COUNT]uint8 // Register file.
	SREG        uint8                 // Status register.
	SP          uint16                // Stack pointer.
	RAM         [RAM_SIZE]uint8
	PC          uint16 // Byte offset from ProgramBase.
	ProgramBase uint16 // Store address of the program.
	Running     bool
	Ticks       uint32 // Clocks executed.

	Frames Frames // Shadow call stack.

	OutputErr error // First failed write to Output, until taken by TakeOutputErr.
}

// NewProcessor creates a processor running the program at base.
func NewProcessor(bus Bus, base uint16) (p *Processor) {
	p = &Processor{
		Bus: bus,
	}
	p.Init(base)

	return
}

// Defines returns an iter of assembler defines for the processor.
func (p *Processor) Defines() iter.Seq2[string, string] {
	return func(yield func(key, value string) bool) {
		for key, value := range maps.All(_cpu_defines) {
			if !yield(key, value) {
				return
			}
		}
		for key, value := range VectorDefines() {
			if !yield(key, value) {
				return
			}
		}
	}
}

// Init resets the processor to run the program at base.
func (p *Processor) Init(base uint16) {
	if p.Verbose {
		log.Printf("cpu: init at 0x%04x", base)
	}

	p.Running = true
	p.PC = 0
	clear(p.R[:])
	p.SP = SP_RESET
	p.SREG = 0
	clear(p.RAM[:])
	p.ProgramBase = base
	p.Ticks = 0
	p.Frames.Reset()
	p.OutputErr = nil
}

// Load reads a byte from the data space.
func (p *Processor) Load(addr uint16) (data uint8) {
	switch {
	case addr < REGISTER_COUNT:
		data = p.R[addr]
	case addr == IO_BASE+IO_SPL:
		data = uint8(p.SP)
	case addr == IO_BASE+IO_SPH:
		data = uint8(p.SP>>8) & SP_HIGH_MASK
	case addr == IO_BASE+IO_SREG:
		data = p.SREG
	case addr >= RAM_BASE && addr <= RAM_END:
		data = p.RAM[addr-RAM_BASE]
	}

	return
}

// Store writes a byte to the data space.
func (p *Processor) Store(addr uint16, data uint8) {
	switch {
	case addr < REGISTER_COUNT:
		p.R[addr] = data
	case addr == IO_BASE+IO_SERIAL:
		if p.Output != nil {
			err := p.Output.WriteByte(data)
			if err != nil && p.OutputErr == nil {
				if p.Verbose {
					log.Printf("cpu: serial output: %v", err)
				}
				p.OutputErr = err
			}
		}
	case addr == IO_BASE+IO_SPL:
		p.SP = (p.SP & (SP_HIGH_MASK << 8)) | uint16(data)
	case addr == IO_BASE+IO_SPH:
		p.SP = (uint16(data&SP_HIGH_MASK) << 8) | (p.SP & 0xff)
	case addr == IO_BASE+IO_SREG:
		p.SREG = data
	case addr >= RAM_BASE && addr <= RAM_END:
		p.RAM[addr-RAM_BASE] = data
	}
}

// Pair reads the little endian register pair starting at index.
func (p *Processor) Pair(index uint8) uint16 {
	return uint16(p.R[index]) | (uint16(p.R[index+1]) << 8)
}

// SetPair writes the little endian register pair starting at index.
func (p *Processor) SetPair(index uint8, value uint16) {
	p.R[index] = uint8(value)
	p.R[index+1] = uint8(value >> 8)
}

// Flag returns a status register bit.
func (p *Processor) Flag(bit uint8) bool {
	return (p.SREG>>bit)&1 != 0
}

// SetFlag sets or clears a status register bit.
func (p *Processor) SetFlag(bit uint8, value bool) {
	if value {
		p.SREG |= 1 << bit
	} else {
		p.SREG &^= 1 << bit
	}
}

func (p *Processor) push(data uint8) {
	p.Store(p.SP, data)
	p.SP--
}

func (p *Processor) pop() uint8 {
	p.SP++
	return p.Load(p.SP)
}

// call pushes the return address, high byte first, and jumps to target.
func (p *Processor) call(target uint16) State {
	p.push(uint8(p.PC >> 8))
	p.push(uint8(p.PC))
	p.Frames.Push(Frame{Return: p.PC, Target: target})
	p.PC = target
	return STATE_CALL
}

// ret pops the return address pushed by call.
func (p *Processor) ret() State {
	p.PC = uint16(p.pop())
	p.PC |= uint16(p.pop()) << 8
	p.Frames.Pop()
	return STATE_RETURN
}

func (p *Processor) tracer() Tracer {
	if p.Tracer == nil {
		return nopTracer{}
	}
	return p.Tracer
}

// Clock executes one instruction, or one syscall when the program counter
// is inside the syscall vector.
func (p *Processor) Clock() (state State) {
	if !p.Running {
		return STATE_HALTED
	}

	pc := p.PC
	code := Code(p.Bus.LoadWord(p.ProgramBase + pc))
	p.PC += 2
	p.Ticks++

	if index, ok := VectorIndex(pc); ok {
		p.tracer().Tracef("%v", &trace{p: p, pc: pc, code: code, text: vectorNames[index]})
		if sys := p.Vector[index]; sys != nil {
			sys(p)
		}
		state = p.ret()
		return
	}

	ins, ok := Decode(code)
	if !ok {
		p.tracer().Tracef("%v", &trace{p: p, pc: pc, code: code, text: fmt.Sprintf(".dw 0x%04x", uint16(code))})
		if p.Verbose {
			log.Printf("cpu: 0x%04x: %v", pc, ErrOpcode(code))
		}
		p.Running = false
		state = STATE_UNKNOWN
		return
	}

	p.tracer().Tracef("%v", &trace{p: p, pc: pc, code: code, ins: ins})
	state = ins.Exec(p, code)

	return
}

// Step clocks until a clock returns the until state, or the processor
// stops running.
func (p *Processor) Step(until State) (state State) {
	for {
		state = p.Clock()
		if state == until || !p.Running {
			return
		}
	}
}

// Finish clocks until the current subroutine returns, or the processor
// stops. Outside of any subroutine it runs until the processor stops.
func (p *Processor) Finish() (state State) {
	depth := p.Frames.Depth()
	for {
		state = p.Clock()
		if !p.Running {
			return
		}
		if state == STATE_RETURN && p.Frames.Depth() < depth {
			return
		}
	}
}

// Backtrace returns the return addresses of the tracked calls, innermost
// first.
func (p *Processor) Backtrace() (trace []uint16) {
	for _, frame := range slices.Backward(p.Frames.Data) {
		trace = append(trace, frame.Return)
	}
	return
}

// TakeOutputErr returns and clears the recorded output failure.
func (p *Processor) TakeOutputErr() (err error) {
	err = p.OutputErr
	p.OutputErr = nil
	return
}

// String returns the register state as a string.
func (p *Processor) String() string {
	var text strings.Builder

	fmt.Fprintf(&text, "pc:%04x regs:", p.PC)
	for n := range REG_X {
		fmt.Fprintf(&text, "%02x ", p.R[n])
	}
	fmt.Fprintf(&text, "X:%04x Y:%04x Z:%04x ", p.Pair(REG_X), p.Pair(REG_Y), p.Pair(REG_Z))
	fmt.Fprintf(&text, "sp:%04x sreg:", p.SP)
	for bit := 7; bit >= 0; bit-- {
		if p.Flag(uint8(bit)) {
			text.WriteByte(flagNames[bit])
		} else {
			text.WriteByte('-')
		}
	}

	return text.String()
}
