package cpu

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Link is how a label address is patched into an opcode.
type Link int

const (
	LINK_NONE = Link(iota)
	LINK_K12  // Relative jump or call.
	LINK_K7   // Relative branch.
	LINK_LO8  // Low byte into an 8 bit immediate.
	LINK_HI8  // High byte into an 8 bit immediate.
	LINK_WORD // Absolute data word.
)

// patch inserts the target address into code, located at pc.
func (link Link) patch(code Code, pc int, target int) (out Code, err error) {
	out = code

	insert := func(value int) {
		value &= 0xff
		out |= Code(value&0xf0)<<4 | Code(value&0xf)
	}

	offset := target - (pc + 2)
	switch link {
	case LINK_K12:
		if offset&1 != 0 || offset < -4096 || offset > 4094 {
			err = fmt.Errorf("%w: offset %d", ErrRange, offset)
			return
		}
		out |= Code((offset >> 1) & 0xfff)
	case LINK_K7:
		if offset&1 != 0 || offset < -128 || offset > 126 {
			err = fmt.Errorf("%w: offset %d", ErrRange, offset)
			return
		}
		out |= Code((offset>>1)&0x7f) << 3
	case LINK_LO8:
		insert(target)
	case LINK_HI8:
		insert(target >> 8)
	case LINK_WORD:
		out = Code(target)
	}

	return
}

// Opcode is the output of one line of assembly.
type Opcode struct {
	LineNo    int      // Source line.
	Pc        int      // Program address of Data.
	Words     []string // Source words.
	Data      []byte   // Little endian instruction words, or raw data.
	LinkLabel string   // Label to patch in, if any.
	Link      Link
}

// link patches the label address into the first word of the opcode.
func (op *Opcode) link(target int) (err error) {
	if len(op.Data) < 2 {
		err = fmt.Errorf("%w: %v", ErrInstructionInvalid, op.Words)
		return
	}

	code := Code(binary.LittleEndian.Uint16(op.Data))
	code, err = op.Link.patch(code, op.Pc, target)
	if err != nil {
		return
	}

	binary.LittleEndian.PutUint16(op.Data, uint16(code))
	return
}

// Program is an assembled program.
type Program struct {
	Opcodes []Opcode
}

type Debug struct {
	*Opcode
	Index int // Byte offset into the opcode.
}

// Debug finds the opcode that produced the byte at pc.
func (prog *Program) Debug(pc uint16) (dbg Debug) {
	for n, op := range prog.Opcodes {
		if int(pc) >= op.Pc && int(pc) < op.Pc+len(op.Data) {
			dbg = Debug{
				Opcode: &prog.Opcodes[n],
				Index:  int(pc) - op.Pc,
			}
			break
		}
	}

	return
}

// Size returns the length of the binary image.
func (prog *Program) Size() (size int) {
	for _, op := range prog.Opcodes {
		size = max(size, op.Pc+len(op.Data))
	}
	return
}

// Binary returns the program image. Gaps left by .org read as zero.
func (prog *Program) Binary() (bin []byte) {
	bin = make([]byte, prog.Size())
	for _, op := range prog.Opcodes {
		copy(bin[op.Pc:], op.Data)
	}

	return
}

// Codes returns an iterator over every aligned word of the program.
func (prog *Program) Codes() iter.Seq2[uint16, Code] {
	return func(yield func(pc uint16, code Code) bool) {
		for _, op := range prog.Opcodes {
			for n := 0; n+1 < len(op.Data); n += 2 {
				pc := op.Pc + n
				if pc&1 != 0 {
					break
				}
				if !yield(uint16(pc), Code(binary.LittleEndian.Uint16(op.Data[n:]))) {
					return
				}
			}
		}
	}
}

// Listing writes the address, bytes and source of every opcode.
func (prog *Program) Listing(w io.Writer) (err error) {
	for _, op := range prog.Opcodes {
		hex := make([]string, 0, len(op.Data))
		for _, data := range op.Data {
			hex = append(hex, fmt.Sprintf("%02x", data))
		}
		if len(hex) > 6 {
			hex = append(hex[:6], "..")
		}
		_, err = fmt.Fprintf(w, "%04x  %-20s %4d: %s\n", op.Pc, strings.Join(hex, " "), op.LineNo, strings.Join(op.Words, " "))
		if err != nil {
			return
		}
	}

	return
}
