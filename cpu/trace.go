package cpu

import (
	"fmt"
)

// Tracer receives one line per executed instruction.
type Tracer interface {
	Tracef(format string, args ...any)
}

type nopTracer struct{}

func (nopTracer) Tracef(format string, args ...any) {}

// TracerFunc adapts a function to a Tracer.
type TracerFunc func(format string, args ...any)

func (tf TracerFunc) Tracef(format string, args ...any) {
	tf(format, args...)
}

// trace formats lazily, so a tracer that drops lines costs nothing.
type trace struct {
	p    *Processor
	pc   uint16
	code Code
	ins  *Instruction
	text string
}

func (tr *trace) String() string {
	text := tr.text
	if tr.ins != nil {
		text = tr.ins.Disassemble(tr.code, tr.pc)
	}

	p := tr.p
	regs := ""
	for n := range REG_X {
		regs += fmt.Sprintf("%02x ", p.R[n])
	}

	sreg := []byte("--------")
	for bit := range 8 {
		if p.Flag(uint8(bit)) {
			sreg[7-bit] = flagNames[bit]
		}
	}

	return fmt.Sprintf("%04d pc:%04x regs:%sX:%04x Y:%04x Z:%04x sp:%04x sreg:%s | %02x %02x  %s",
		p.Ticks, tr.pc, regs, p.Pair(REG_X), p.Pair(REG_Y), p.Pair(REG_Z), p.SP, sreg,
		uint16(tr.code)&0xff, uint16(tr.code)>>8, text)
}
