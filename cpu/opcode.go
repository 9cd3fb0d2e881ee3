package cpu

import (
	"fmt"
	"strings"
)

// Code is a 16 bit instruction word. Operand fields sit at fixed bit
// positions, interspersed with the opcode bits.
type Code uint16

// Rd is the destination register: 0000 000d dddd 0000
func (code Code) Rd() uint8 {
	return uint8(code>>4) & 0x1f
}

// Rdu is the upper half destination register: 0000 0000 dddd 0000
func (code Code) Rdu() uint8 {
	return (uint8(code>>4) & 0xf) + 16
}

// Rdw is the destination register pair: 0000 0000 dddd 0000
func (code Code) Rdw() uint8 {
	return (uint8(code>>4) & 0xf) << 1
}

// Rdwp is the word immediate register pair: 0000 0000 00dd 0000
func (code Code) Rdwp() uint8 {
	return ((uint8(code>>4) & 0x3) << 1) + 24
}

// Rr is the source register: 0000 00r0 0000 rrrr
func (code Code) Rr() uint8 {
	return (uint8(code>>5) & 0x10) | (uint8(code) & 0xf)
}

// Rrw is the source register pair: 0000 0000 0000 rrrr
func (code Code) Rrw() uint8 {
	return (uint8(code) & 0xf) << 1
}

// K is an 8 bit immediate: 0000 KKKK 0000 KKKK
func (code Code) K() uint8 {
	return (uint8(code>>4) & 0xf0) | (uint8(code) & 0xf)
}

// K6 is a 6 bit immediate: 0000 0000 KK00 KKKK
func (code Code) K6() uint8 {
	return (uint8(code>>2) & 0x30) | (uint8(code) & 0xf)
}

// K12 is a signed byte offset: 0000 kkkk kkkk kkkk
func (code Code) K12() int16 {
	k := int16(code&0xfff) << 1
	if k&0x1000 != 0 {
		k |= ^0x1fff
	}
	return k
}

// K7 is a signed byte offset: 0000 00kk kkkk k000
func (code Code) K7() int16 {
	k := int16(code>>2) & 0xfe
	if k&0x80 != 0 {
		k |= ^0xff
	}
	return k
}

// A is a 6 bit I/O address: 0000 0AA0 0000 AAAA
func (code Code) A() uint8 {
	return (uint8(code>>5) & 0x30) | (uint8(code) & 0xf)
}

// Al is a 5 bit I/O address: 0000 0000 AAAA A000
func (code Code) Al() uint8 {
	return uint8(code>>3) & 0x1f
}

// B is a bit number: 0000 0000 0000 0bbb
func (code Code) B() uint8 {
	return uint8(code) & 0x7
}

// S is a status register bit number: 0000 0000 0sss 0000
func (code Code) S() uint8 {
	return uint8(code>>4) & 0x7
}

// String disassembles the code, as if at address 0.
func (code Code) String() string {
	ins, ok := Decode(code)
	if !ok {
		return fmt.Sprintf(".dw 0x%04x", uint16(code))
	}
	return ins.Disassemble(code, 0)
}

// Instruction is one entry of the decode table.
type Instruction struct {
	Name  string
	Mask  Code
	Match Code
	Same  bool   // Only matches when Rd == Rr.
	Args  string // Operand fields, for disassembly.
	Exec  func(p *Processor, code Code) State
}

// Matches returns true if the code decodes as this instruction.
func (ins *Instruction) Matches(code Code) bool {
	if code&ins.Mask != ins.Match {
		return false
	}
	return !ins.Same || code.Rd() == code.Rr()
}

// Disassemble formats the code as assembly text. Branch targets are
// absolute, computed from the code's address pc.
func (ins *Instruction) Disassemble(code Code, pc uint16) string {
	if ins.Args == "" {
		return ins.Name
	}

	var args []string
	for _, arg := range strings.Split(ins.Args, ",") {
		var text string
		switch arg {
		case "Rd":
			text = fmt.Sprintf("r%d", code.Rd())
		case "Rdu":
			text = fmt.Sprintf("r%d", code.Rdu())
		case "Rdw":
			text = fmt.Sprintf("r%d", code.Rdw())
		case "Rdwp":
			text = fmt.Sprintf("r%d", code.Rdwp())
		case "Rr":
			text = fmt.Sprintf("r%d", code.Rr())
		case "Rrw":
			text = fmt.Sprintf("r%d", code.Rrw())
		case "K":
			text = fmt.Sprintf("0x%02x", code.K())
		case "K6":
			text = fmt.Sprintf("0x%02x", code.K6())
		case "k12":
			text = fmt.Sprintf("0x%04x", uint16(int16(pc+2)+code.K12()))
		case "k7":
			text = fmt.Sprintf("0x%04x", uint16(int16(pc+2)+code.K7()))
		case "A":
			text = fmt.Sprintf("0x%02x", code.A())
		case "Al":
			text = fmt.Sprintf("0x%02x", code.Al())
		case "b":
			text = fmt.Sprintf("%d", code.B())
		case "s":
			text = fmt.Sprintf("%d", code.S())
		default:
			text = arg
		}
		args = append(args, text)
	}

	return ins.Name + " " + strings.Join(args, ", ")
}

// Decode finds the first matching instruction, in table order.
func Decode(code Code) (ins *Instruction, ok bool) {
	for n := range Instructions {
		if Instructions[n].Matches(code) {
			ins = &Instructions[n]
			ok = true
			return
		}
	}

	return
}

// Lookup finds an instruction by name.
func Lookup(name string) (ins *Instruction, ok bool) {
	for n := range Instructions {
		if Instructions[n].Name == name {
			ins = &Instructions[n]
			ok = true
			return
		}
	}

	return
}

func step(fn func(p *Processor, code Code)) func(p *Processor, code Code) State {
	return func(p *Processor, code Code) State {
		fn(p, code)
		return STATE_STEP
	}
}

func skipIf(cond func(p *Processor, code Code) bool) func(p *Processor, code Code) State {
	return func(p *Processor, code Code) State {
		if cond(p, code) {
			p.PC += 2
		}
		return STATE_STEP
	}
}

// load is ld through an index pair, with optional pre-decrement or
// post-increment.
func load(pair uint8, delta int) func(p *Processor, code Code) State {
	return step(func(p *Processor, code Code) {
		addr := p.Pair(pair)
		if delta < 0 {
			addr--
			p.SetPair(pair, addr)
		}
		p.R[code.Rd()] = p.Load(addr)
		if delta > 0 {
			p.SetPair(pair, addr+1)
		}
	})
}

// store is st through an index pair.
func store(pair uint8, delta int) func(p *Processor, code Code) State {
	return step(func(p *Processor, code Code) {
		addr := p.Pair(pair)
		if delta < 0 {
			addr--
			p.SetPair(pair, addr)
		}
		p.Store(addr, p.R[code.Rd()])
		if delta > 0 {
			p.SetPair(pair, addr+1)
		}
	})
}

// lpm loads from program memory at Z.
func lpm(rd func(code Code) uint8, delta int) func(p *Processor, code Code) State {
	return step(func(p *Processor, code Code) {
		z := p.Pair(REG_Z)
		p.R[rd(code)] = p.Bus.LoadByte(p.ProgramBase + z)
		if delta > 0 {
			p.SetPair(REG_Z, z+1)
		}
	})
}

func nop(p *Processor, code Code) State {
	return STATE_STEP
}

// Instructions is the decode table. Order matters: lsl and rol are add
// and adc with Rd == Rr, and must be tested first.
var Instructions = []Instruction{
	// Arithmetic and logic
	{Name: "lsl", Mask: 0xfc00, Match: 0x0c00, Same: true, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			carry := p.R[d]&0x80 != 0
			p.R[d] <<= 1
			p.shifted(p.R[d], carry)
		})},
	{Name: "rol", Mask: 0xfc00, Match: 0x1c00, Same: true, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			carry := p.R[d]&0x80 != 0
			p.R[d] = (p.R[d] << 1) | uint8(bit(p.Flag(FLAG_C)))
			p.shifted(p.R[d], carry)
		})},
	{Name: "add", Mask: 0xfc00, Match: 0x0c00, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Add(p.R[code.Rd()], p.R[code.Rr()], false)
		})},
	{Name: "adc", Mask: 0xfc00, Match: 0x1c00, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Add(p.R[code.Rd()], p.R[code.Rr()], p.Flag(FLAG_C))
		})},
	{Name: "adiw", Mask: 0xff00, Match: 0x9600, Args: "Rdwp,K6",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rdwp()
			var carry bool
			p.R[d], carry = p.addFlags(p.R[d], code.K6(), false, false)
			p.R[d+1], carry = p.addFlags(p.R[d+1], 0, carry, true)
			p.SetFlag(FLAG_C, carry)
		})},
	{Name: "sbc", Mask: 0xfc00, Match: 0x0800, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Sub(p.R[code.Rd()], p.R[code.Rr()], p.Flag(FLAG_C), true)
		})},
	{Name: "sub", Mask: 0xfc00, Match: 0x1800, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Sub(p.R[code.Rd()], p.R[code.Rr()], false, false)
		})},
	{Name: "sbci", Mask: 0xf000, Match: 0x4000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rdu()] = p.Sub(p.R[code.Rdu()], code.K(), p.Flag(FLAG_C), true)
		})},
	{Name: "subi", Mask: 0xf000, Match: 0x5000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rdu()] = p.Sub(p.R[code.Rdu()], code.K(), false, false)
		})},
	{Name: "sbiw", Mask: 0xff00, Match: 0x9700, Args: "Rdwp,K6",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rdwp()
			var carry bool
			p.R[d], carry = p.subFlags(p.R[d], code.K6(), false, false)
			p.R[d+1], carry = p.subFlags(p.R[d+1], 0, carry, true)
			p.SetFlag(FLAG_C, carry)
		})},
	{Name: "and", Mask: 0xfc00, Match: 0x2000, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] &= p.R[code.Rr()]
			p.flags(p.R[code.Rd()], false, false)
		})},
	{Name: "andi", Mask: 0xf000, Match: 0x7000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rdu()] &= code.K()
			p.flags(p.R[code.Rdu()], false, false)
		})},
	{Name: "or", Mask: 0xfc00, Match: 0x2800, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] |= p.R[code.Rr()]
			p.flags(p.R[code.Rd()], false, false)
		})},
	{Name: "ori", Mask: 0xf000, Match: 0x6000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rdu()] |= code.K()
			p.flags(p.R[code.Rdu()], false, false)
		})},
	{Name: "eor", Mask: 0xfc00, Match: 0x2400, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] ^= p.R[code.Rr()]
			p.flags(p.R[code.Rd()], false, false)
		})},
	{Name: "com", Mask: 0xfe0f, Match: 0x9400, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			var carry bool
			p.R[code.Rd()], carry = p.subFlags(0xff, p.R[code.Rd()], false, false)
			p.SetFlag(FLAG_C, carry)
		})},
	{Name: "neg", Mask: 0xfe0f, Match: 0x9401, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Sub(0, p.R[code.Rd()], false, false)
		})},
	{Name: "inc", Mask: 0xfe0f, Match: 0x9403, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()], _ = p.addFlags(p.R[code.Rd()], 1, false, false)
		})},
	{Name: "dec", Mask: 0xfe0f, Match: 0x940a, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()], _ = p.subFlags(p.R[code.Rd()], 1, false, false)
		})},

	// Branches
	{Name: "rjmp", Mask: 0xf000, Match: 0xc000, Args: "k12",
		Exec: func(p *Processor, code Code) State {
			k := code.K12()
			p.PC = uint16(int16(p.PC) + k)
			if k == -2 {
				p.Running = false
				return STATE_HALTED
			}
			return STATE_STEP
		}},
	{Name: "ijmp", Mask: 0xffff, Match: 0x9409,
		Exec: step(func(p *Processor, code Code) {
			p.PC = p.Pair(REG_Z)
		})},
	{Name: "rcall", Mask: 0xf000, Match: 0xd000, Args: "k12",
		Exec: func(p *Processor, code Code) State {
			return p.call(uint16(int16(p.PC) + code.K12()))
		}},
	{Name: "icall", Mask: 0xffff, Match: 0x9509,
		Exec: func(p *Processor, code Code) State {
			return p.call(p.Pair(REG_Z))
		}},
	{Name: "ret", Mask: 0xffff, Match: 0x9508,
		Exec: func(p *Processor, code Code) State {
			return p.ret()
		}},
	{Name: "reti", Mask: 0xffff, Match: 0x9518,
		Exec: func(p *Processor, code Code) State {
			p.SetFlag(FLAG_I, true)
			return p.ret()
		}},
	{Name: "cpse", Mask: 0xfc00, Match: 0x1000, Args: "Rd,Rr",
		Exec: skipIf(func(p *Processor, code Code) bool {
			return p.R[code.Rd()] == p.R[code.Rr()]
		})},
	{Name: "cpc", Mask: 0xfc00, Match: 0x0400, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.Sub(p.R[code.Rd()], p.R[code.Rr()], p.Flag(FLAG_C), true)
		})},
	{Name: "cp", Mask: 0xfc00, Match: 0x1400, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.Sub(p.R[code.Rd()], p.R[code.Rr()], false, false)
		})},
	{Name: "cpi", Mask: 0xf000, Match: 0x3000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.Sub(p.R[code.Rdu()], code.K(), false, false)
		})},
	{Name: "sbrc", Mask: 0xfe08, Match: 0xfc00, Args: "Rd,b",
		Exec: skipIf(func(p *Processor, code Code) bool {
			return (p.R[code.Rd()]>>code.B())&1 == 0
		})},
	{Name: "sbrs", Mask: 0xfe08, Match: 0xfe00, Args: "Rd,b",
		Exec: skipIf(func(p *Processor, code Code) bool {
			return (p.R[code.Rd()]>>code.B())&1 != 0
		})},
	{Name: "sbic", Mask: 0xff00, Match: 0x9900, Args: "Al,b",
		Exec: skipIf(func(p *Processor, code Code) bool {
			return (p.Load(IO_BASE+uint16(code.Al()))>>code.B())&1 == 0
		})},
	{Name: "sbis", Mask: 0xff00, Match: 0x9b00, Args: "Al,b",
		Exec: skipIf(func(p *Processor, code Code) bool {
			return (p.Load(IO_BASE+uint16(code.Al()))>>code.B())&1 != 0
		})},
	{Name: "brbs", Mask: 0xfc00, Match: 0xf000, Args: "b,k7",
		Exec: step(func(p *Processor, code Code) {
			if p.Flag(code.B()) {
				p.PC = uint16(int16(p.PC) + code.K7())
			}
		})},
	{Name: "brbc", Mask: 0xfc00, Match: 0xf400, Args: "b,k7",
		Exec: step(func(p *Processor, code Code) {
			if !p.Flag(code.B()) {
				p.PC = uint16(int16(p.PC) + code.K7())
			}
		})},

	// Data transfer
	{Name: "mov", Mask: 0xfc00, Match: 0x2c00, Args: "Rd,Rr",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.R[code.Rr()]
		})},
	{Name: "movw", Mask: 0xff00, Match: 0x0100, Args: "Rdw,Rrw",
		Exec: step(func(p *Processor, code Code) {
			p.SetPair(code.Rdw(), p.Pair(code.Rrw()))
		})},
	{Name: "ldi", Mask: 0xf000, Match: 0xe000, Args: "Rdu,K",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rdu()] = code.K()
		})},
	{Name: "ld", Mask: 0xfe0f, Match: 0x900c, Args: "Rd,X", Exec: load(REG_X, 0)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x900d, Args: "Rd,X+", Exec: load(REG_X, 1)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x900e, Args: "Rd,-X", Exec: load(REG_X, -1)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x8008, Args: "Rd,Y", Exec: load(REG_Y, 0)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x9009, Args: "Rd,Y+", Exec: load(REG_Y, 1)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x900a, Args: "Rd,-Y", Exec: load(REG_Y, -1)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x8000, Args: "Rd,Z", Exec: load(REG_Z, 0)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x9001, Args: "Rd,Z+", Exec: load(REG_Z, 1)},
	{Name: "ld", Mask: 0xfe0f, Match: 0x9002, Args: "Rd,-Z", Exec: load(REG_Z, -1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x920c, Args: "X,Rd", Exec: store(REG_X, 0)},
	{Name: "st", Mask: 0xfe0f, Match: 0x920d, Args: "X+,Rd", Exec: store(REG_X, 1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x920e, Args: "-X,Rd", Exec: store(REG_X, -1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x8208, Args: "Y,Rd", Exec: store(REG_Y, 0)},
	{Name: "st", Mask: 0xfe0f, Match: 0x9209, Args: "Y+,Rd", Exec: store(REG_Y, 1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x920a, Args: "-Y,Rd", Exec: store(REG_Y, -1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x8200, Args: "Z,Rd", Exec: store(REG_Z, 0)},
	{Name: "st", Mask: 0xfe0f, Match: 0x9201, Args: "Z+,Rd", Exec: store(REG_Z, 1)},
	{Name: "st", Mask: 0xfe0f, Match: 0x9202, Args: "-Z,Rd", Exec: store(REG_Z, -1)},
	{Name: "lpm", Mask: 0xffff, Match: 0x95c8,
		Exec: lpm(func(code Code) uint8 { return 0 }, 0)},
	{Name: "lpm", Mask: 0xfe0f, Match: 0x9004, Args: "Rd,Z", Exec: lpm(Code.Rd, 0)},
	{Name: "lpm", Mask: 0xfe0f, Match: 0x9005, Args: "Rd,Z+", Exec: lpm(Code.Rd, 1)},
	{Name: "in", Mask: 0xf800, Match: 0xb000, Args: "Rd,A",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.Load(IO_BASE + uint16(code.A()))
		})},
	{Name: "out", Mask: 0xf800, Match: 0xb800, Args: "A,Rd",
		Exec: step(func(p *Processor, code Code) {
			p.Store(IO_BASE+uint16(code.A()), p.R[code.Rd()])
		})},
	{Name: "push", Mask: 0xfe0f, Match: 0x920f, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			p.push(p.R[code.Rd()])
		})},
	{Name: "pop", Mask: 0xfe0f, Match: 0x900f, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			p.R[code.Rd()] = p.pop()
		})},

	// Bit and bit-test
	{Name: "cbi", Mask: 0xff00, Match: 0x9800, Args: "Al,b",
		Exec: step(func(p *Processor, code Code) {
			addr := IO_BASE + uint16(code.Al())
			p.Store(addr, p.Load(addr)&^(1<<code.B()))
		})},
	{Name: "sbi", Mask: 0xff00, Match: 0x9a00, Args: "Al,b",
		Exec: step(func(p *Processor, code Code) {
			addr := IO_BASE + uint16(code.Al())
			p.Store(addr, p.Load(addr)|(1<<code.B()))
		})},
	{Name: "lsr", Mask: 0xfe0f, Match: 0x9406, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			carry := p.R[d]&1 != 0
			p.R[d] >>= 1
			p.shifted(p.R[d], carry)
		})},
	{Name: "ror", Mask: 0xfe0f, Match: 0x9407, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			carry := p.R[d]&1 != 0
			p.R[d] = (p.R[d] >> 1) | (uint8(bit(p.Flag(FLAG_C))) << 7)
			p.shifted(p.R[d], carry)
		})},
	{Name: "asr", Mask: 0xfe0f, Match: 0x9405, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			carry := p.R[d]&1 != 0
			p.R[d] = (p.R[d] >> 1) | (p.R[d] & 0x80)
			p.shifted(p.R[d], carry)
		})},
	{Name: "swap", Mask: 0xfe0f, Match: 0x9402, Args: "Rd",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			p.R[d] = (p.R[d] << 4) | (p.R[d] >> 4)
		})},
	{Name: "bset", Mask: 0xff8f, Match: 0x9408, Args: "s",
		Exec: step(func(p *Processor, code Code) {
			p.SetFlag(code.S(), true)
		})},
	{Name: "bclr", Mask: 0xff8f, Match: 0x9488, Args: "s",
		Exec: step(func(p *Processor, code Code) {
			p.SetFlag(code.S(), false)
		})},
	{Name: "bst", Mask: 0xfe08, Match: 0xfa00, Args: "Rd,b",
		Exec: step(func(p *Processor, code Code) {
			p.SetFlag(FLAG_T, (p.R[code.Rd()]>>code.B())&1 != 0)
		})},
	{Name: "bld", Mask: 0xfe08, Match: 0xf800, Args: "Rd,b",
		Exec: step(func(p *Processor, code Code) {
			d := code.Rd()
			if p.Flag(FLAG_T) {
				p.R[d] |= 1 << code.B()
			} else {
				p.R[d] &^= 1 << code.B()
			}
		})},

	// Execution control, all no-ops here.
	{Name: "nop", Mask: 0xffff, Match: 0x0000, Exec: nop},
	{Name: "sleep", Mask: 0xffff, Match: 0x9588, Exec: nop},
	{Name: "break", Mask: 0xffff, Match: 0x9598, Exec: nop},
	{Name: "wdr", Mask: 0xffff, Match: 0x95a8, Exec: nop},
	{Name: "spm", Mask: 0xffff, Match: 0x95e8, Exec: nop},
}
