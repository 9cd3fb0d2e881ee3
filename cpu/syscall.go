package cpu

import (
	"fmt"
	"iter"
)

// Syscall vector addresses.
const (
	VECTOR_BASE  = 2
	VECTOR_END   = 26
	VECTOR_COUNT = (VECTOR_END-VECTOR_BASE)/2 + 1

	STRING_LIMIT = 256 // Longest string a syscall will read.
)

// Syscall vector slots.
const (
	SYS_SERIAL_WRITE = iota
	SYS_SERIAL_PRINT
	SYS_SERIAL_PRINT_P
	SYS_SERIAL_PRINTLN
	SYS_SERIAL_PRINTLN_P
	SYS_FILE_OPEN
	SYS_FILE_NAME
	SYS_FILE_SIZE
	SYS_FILE_POSITION
	SYS_FILE_SEEK
	SYS_FILE_READ
	SYS_FILE_WRITE
	SYS_FILE_CLOSE
)

var vectorNames = [VECTOR_COUNT]string{
	"SYS_SERIAL_WRITE",
	"SYS_SERIAL_PRINT",
	"SYS_SERIAL_PRINT_P",
	"SYS_SERIAL_PRINTLN",
	"SYS_SERIAL_PRINTLN_P",
	"SYS_FILE_OPEN",
	"SYS_FILE_NAME",
	"SYS_FILE_SIZE",
	"SYS_FILE_POSITION",
	"SYS_FILE_SEEK",
	"SYS_FILE_READ",
	"SYS_FILE_WRITE",
	"SYS_FILE_CLOSE",
}

// VectorAddress returns the program address of a syscall slot.
func VectorAddress(index int) uint16 {
	return uint16(VECTOR_BASE + 2*index)
}

// VectorIndex returns the syscall slot for a program address.
func VectorIndex(pc uint16) (index int, ok bool) {
	if pc < VECTOR_BASE || pc > VECTOR_END || pc&1 != 0 {
		return
	}

	index = int(pc-VECTOR_BASE) / 2
	ok = true
	return
}

// VectorName returns the assembler name of a syscall slot.
func VectorName(index int) string {
	return vectorNames[index]
}

// VectorDefines returns the syscall addresses as assembler defines.
func VectorDefines() iter.Seq2[string, string] {
	return func(yield func(key, value string) bool) {
		for index, name := range vectorNames {
			if !yield(name, fmt.Sprintf("%d", VectorAddress(index))) {
				return
			}
		}
	}
}

// Arguments follow the avr-gcc convention: argument n is in the register
// pair starting at r24 - 2n, 8 bit values in the low register.

// Arg8 returns an 8 bit argument.
func (p *Processor) Arg8(n int) uint8 {
	return p.R[24-2*n]
}

// Arg16 returns a 16 bit argument.
func (p *Processor) Arg16(n int) uint16 {
	return p.Pair(uint8(24 - 2*n))
}

// Return8 sets an 8 bit result.
func (p *Processor) Return8(value uint8) {
	p.R[24] = value
}

// Return16 sets a 16 bit result.
func (p *Processor) Return16(value uint16) {
	p.SetPair(24, value)
}

// ReturnBool sets a boolean result.
func (p *Processor) ReturnBool(value bool) {
	p.Return8(uint8(bit(value)))
}

// LoadBytes copies from the data space.
func (p *Processor) LoadBytes(addr uint16, buf []byte) {
	for n := range buf {
		buf[n] = p.Load(addr + uint16(n))
	}
}

// StoreBytes copies to the data space.
func (p *Processor) StoreBytes(addr uint16, buf []byte) {
	for n, data := range buf {
		p.Store(addr+uint16(n), data)
	}
}

// LoadString reads a null terminated string from the data space.
func (p *Processor) LoadString(addr uint16) string {
	var buf []byte
	for n := range STRING_LIMIT {
		data := p.Load(addr + uint16(n))
		if data == 0 {
			break
		}
		buf = append(buf, data)
	}
	return string(buf)
}

// LoadProgramString reads a null terminated string from program memory.
func (p *Processor) LoadProgramString(addr uint16) string {
	var buf []byte
	for n := range STRING_LIMIT {
		data := p.Bus.LoadByte(p.ProgramBase + addr + uint16(n))
		if data == 0 {
			break
		}
		buf = append(buf, data)
	}
	return string(buf)
}
