package cpu

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO":      "0",
	"VECTOR_BASE": fmt.Sprintf("%d", VECTOR_BASE),
	"VECTOR_END":  fmt.Sprintf("%d", VECTOR_END),
}

// Assembler is a single pass macro assembler for the processor's
// instruction subset.
type Assembler struct {
	Verbose bool     // If set, verbosely logs the assembler actions.
	Opcode  []Opcode // List of generated opcodes.

	predefine map[string]string   // Predefines
	Label     map[string]int      // Map of labels to program addresses.
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.
}

// Define defines a new equate or redefines an existing equate.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// alias maps an alternate mnemonic onto a table instruction and operand.
type alias struct {
	Name string
	Bit  int
}

var branchAlias = map[string]alias{
	"brcs": {"brbs", FLAG_C},
	"brlo": {"brbs", FLAG_C},
	"brcc": {"brbc", FLAG_C},
	"brsh": {"brbc", FLAG_C},
	"breq": {"brbs", FLAG_Z},
	"brne": {"brbc", FLAG_Z},
	"brmi": {"brbs", FLAG_N},
	"brpl": {"brbc", FLAG_N},
	"brvs": {"brbs", FLAG_V},
	"brvc": {"brbc", FLAG_V},
	"brlt": {"brbs", FLAG_S},
	"brge": {"brbc", FLAG_S},
	"brhs": {"brbs", FLAG_H},
	"brhc": {"brbc", FLAG_H},
	"brts": {"brbs", FLAG_T},
	"brtc": {"brbc", FLAG_T},
	"brie": {"brbs", FLAG_I},
	"brid": {"brbc", FLAG_I},
}

var flagAlias = map[string]alias{
	"sec": {"bset", FLAG_C},
	"clc": {"bclr", FLAG_C},
	"sez": {"bset", FLAG_Z},
	"clz": {"bclr", FLAG_Z},
	"sen": {"bset", FLAG_N},
	"cln": {"bclr", FLAG_N},
	"sev": {"bset", FLAG_V},
	"clv": {"bclr", FLAG_V},
	"ses": {"bset", FLAG_S},
	"cls": {"bclr", FLAG_S},
	"seh": {"bset", FLAG_H},
	"clh": {"bclr", FLAG_H},
	"set": {"bset", FLAG_T},
	"clt": {"bclr", FLAG_T},
	"sei": {"bset", FLAG_I},
	"cli": {"bclr", FLAG_I},
}

var (
	reLabel   = regexp.MustCompile(`^[A-Za-z_.][A-Za-z0-9_.]*$`)
	reByteOf  = regexp.MustCompile(`^(lo8|hi8)\(([A-Za-z_.][A-Za-z0-9_.]*)\)$`)
	reChar    = regexp.MustCompile(`'\\?[^']'`)
	reParen   = regexp.MustCompile(`\$\([^\$]*\)`)
	byteLinks = map[string]Link{"lo8": LINK_LO8, "hi8": LINK_HI8}
)

// valueOf returns the value of a simple word.
func (asm *Assembler) valueOf(word string) (value int, err error) {
	if len(word) == 0 {
		err = ErrOpcodeValueMissing
		return
	}
	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}
	if len(word) > 0 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(word)
		return
	}
	v64, err := strconv.ParseInt(word, 0, 32)
	if err != nil {
		err = ErrParseNumber(word)
		return
	}

	value = int(v64)
	if invert {
		value = ^value
	}

	return
}

// valueIn returns the value of a word, checked against a range.
func (asm *Assembler) valueIn(word string, low, high int) (value int, err error) {
	value, err = asm.valueOf(word)
	if err != nil {
		return
	}

	if value < low || value > high {
		err = fmt.Errorf("%w: %v", ErrRange, word)
		return
	}

	return
}

// register returns the register number of rN.
func register(word string) (r int, err error) {
	if len(word) < 2 || (word[0] != 'r' && word[0] != 'R') {
		err = fmt.Errorf("%w: %v", ErrRegisterInvalid, word)
		return
	}

	r, err = strconv.Atoi(word[1:])
	if err != nil || r < 0 || r >= REGISTER_COUNT {
		err = fmt.Errorf("%w: %v", ErrRegisterInvalid, word)
		return
	}

	return
}

// byteOf is the lo8() and hi8() starlark builtin.
func byteOf(shift int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var value int
		err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &value)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt((value >> shift) & 0xff), nil
	}
}

// parentEval does compile-time $(...) evaluations
func (asm *Assembler) parenEval(expr string) (value int, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{
		"lo8": starlark.NewBuiltin("lo8", byteOf(0)),
		"hi8": starlark.NewBuiltin("hi8", byteOf(8)),
	}
	for key, str := range asm.Equate {
		var equ int
		equ, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			err = nil
			continue
		}
		pred[key] = starlark.MakeInt(equ)
	}
	for key, pc := range asm.Label {
		pred[key] = starlark.MakeInt(pc)
	}
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	value = int(st_int64)
	return
}

// isSeparator splits operands.
func isSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == ','
}

// stripComment removes a ';' comment outside of quotes.
func stripComment(text string) string {
	quoted := false
	escaped := false
	for n, c := range text {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ';' && !quoted:
			return text[:n]
		}
	}
	return text
}

// parseLine parses a single line as an opcode.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	// A string literal is always the last operand.
	var literal string
	if n := strings.IndexByte(line, '"'); n >= 0 {
		literal = strings.TrimSpace(line[n:])
		line = line[:n]
	}

	// Do 'x' evaluations
	line = reChar.ReplaceAllStringFunc(line, func(word string) string {
		str := word[1 : len(word)-1]
		if str[0] == '\\' {
			str = str[1:]
			switch str {
			case "\\":
				str = "\\"
			case "'":
				str = "'"
			case "0":
				str = "\000"
			case "n":
				str = "\n"
			case "r":
				str = "\r"
			case "t":
				str = "\t"
			case "e":
				str = "\033"
			default:
				return word
			}
		} else if len(str) != 1 {
			return word
		}
		return fmt.Sprintf("%v", str[0])
	})

	// Do $() evaluations
	line = reParen.ReplaceAllStringFunc(line, func(str string) string {
		value, _err := asm.parenEval(str[2 : len(str)-1])
		if _err != nil {
			err = _err
		}
		return fmt.Sprintf("%#v", value)
	})
	if err != nil {
		return
	}

	words = strings.FieldsFunc(line, isSeparator)
	if len(literal) > 0 {
		words = append(words, literal)
	}

	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE, or .equ CONST = VALUE
	if words[0] == ".equ" {
		if len(words) == 4 && words[2] == "=" {
			words = slices.Delete(words, 2, 3)
		}
		if len(words) != 3 {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		if ok {
			err = ErrEquateDuplicate
			return
		}
		asm.Equate[words[1]] = words[2]
		words = words[:0]
		return
	}

	for n, word := range words {
		if len(word) == 0 || word == literal {
			continue
		}

		// Check for equate next
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
		}
	}

	for strings.HasSuffix(words[0], ":") {
		label := words[0][:len(words[0])-1]
		_, ok := asm.Label[label]
		if ok {
			err = ErrLabelDuplicate
			return
		}

		if asm.Label == nil {
			asm.Label = make(map[string]int, 16)
		}
		asm.Label[label] = asm.currentPc()
		words = words[1:]
		if len(words) == 0 {
			return
		}
	}

	// .macro processing
	macro, ok := asm.Macro[words[0]]
	if ok {
		name := words[0]

		args := words[1:]
		if len(args) != len(macro.Args) {
			err = ErrMacroSyntax
			return
		}
		// Turn args into equs
		old_equate := maps.Clone(asm.Equate)
		for n, arg := range macro.Args {
			asm.Equate[arg] = words[1+n]
		}
		defer func() { asm.Equate = old_equate }()

		for n, line := range macro.Lines {
			lineno := macro.LineNo + n

			line = strings.ReplaceAll(line, "@", fmt.Sprintf("%v_%v_", name, lineno))
			words, err = asm.parseLine(line, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}

			err = asm.parseWords(words, macro.LineNo+n)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}
		}

		words = nil
		return
	}

	return
}

// currentPc gets the current program address.
func (asm *Assembler) currentPc() int {
	if len(asm.Opcode) == 0 {
		return 0
	}

	last := asm.Opcode[len(asm.Opcode)-1]

	return last.Pc + len(last.Data)
}

// Parse parses an input stream into a Program containing opcodes.
func (asm *Assembler) Parse(input io.Reader) (prog *Program, err error) {

	scanner := bufio.NewScanner(input)

	var line string
	var lineno int
	var macro *Macro

	defer func() {
		if err != nil {
			err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
		}
	}()

	clear(asm.Label)
	asm.Opcode = asm.Opcode[:0]
	if asm.Macro == nil {
		asm.Macro = make(map[string](*Macro))
	}
	clear(asm.Macro)
	asm.Equate = maps.Clone(sysEquate)
	maps.Insert(asm.Equate, maps.All(_cpu_defines))
	maps.Insert(asm.Equate, VectorDefines())
	for attr, val := range asm.predefine {
		asm.Equate[attr] = val
	}

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if asm.Verbose {
			log.Printf("%v: %v\n", lineno, text)
		}

		line = strings.TrimSpace(stripComment(text))
		words := strings.FieldsFunc(line, isSeparator)

		// .macro NAME arg...
		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				err = ErrMacroNesting
				return
			}
			if len(words) < 2 {
				err = ErrMacroSyntax
				return
			}
			_, ok := asm.Macro[words[1]]
			if ok {
				err = ErrMacroDuplicate
				return
			}
			macro = &Macro{
				LineNo: lineno + 1,
			}
			if len(words) > 2 {
				macro.Args = words[2:]
			}
			asm.Macro[words[1]] = macro
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				err = ErrMacroLonelyEndm
				return
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = asm.parseLine(line, lineno)
		if err != nil {
			return
		}

		err = asm.parseWords(words, lineno)
		if err != nil {
			return
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		err = ErrMacroLonely
		return
	}

	// Final linking of labels.
	for n := range asm.Opcode {
		op := &asm.Opcode[n]

		if len(op.LinkLabel) == 0 {
			continue
		}
		lineno = op.LineNo
		line = strings.Join(op.Words, " ")

		pc, ok := asm.Label[op.LinkLabel]
		if !ok {
			err = ErrLabelMissing(op.LinkLabel)
			return
		}
		err = op.link(pc)
		if err != nil {
			return
		}
	}

	prog = &Program{
		Opcodes: slices.Clone(asm.Opcode),
	}

	return
}

// alias rewrites alternate mnemonics into table instructions.
func (asm *Assembler) alias(words []string) (out []string, err error) {
	name, args := words[0], words[1:]

	if a, ok := branchAlias[name]; ok {
		out = append([]string{a.Name, strconv.Itoa(a.Bit)}, args...)
		return
	}

	if a, ok := flagAlias[name]; ok {
		out = append([]string{a.Name, strconv.Itoa(a.Bit)}, args...)
		return
	}

	switch {
	case name == "tst" && len(args) == 1:
		out = []string{"and", args[0], args[0]}
	case name == "clr" && len(args) == 1:
		out = []string{"eor", args[0], args[0]}
	case name == "ser" && len(args) == 1:
		out = []string{"ldi", args[0], "0xff"}
	case name == "sbr" && len(args) == 2:
		out = []string{"ori", args[0], args[1]}
	case name == "cbr" && len(args) == 2:
		var value int
		value, err = asm.valueIn(args[1], -128, 255)
		if err != nil {
			return
		}
		out = []string{"andi", args[0], fmt.Sprintf("%d", ^value&0xff)}
	case name == "halt" && len(args) == 0:
		out = []string{"rjmp", "."}
	case name == "jmp":
		out = append([]string{"rjmp"}, args...)
	case name == "call":
		out = append([]string{"rcall"}, args...)
	default:
		out = words
	}

	return
}

// encode assembles an instruction, trying every table entry of the name.
func (asm *Assembler) encode(words []string, pc int) (code Code, label string, link Link, err error) {
	words, err = asm.alias(words)
	if err != nil {
		return
	}

	name, args := words[0], words[1:]

	err = ErrInstructionInvalid
	for n := range Instructions {
		ins := &Instructions[n]
		if ins.Name != name {
			continue
		}

		var fields []string
		if len(ins.Args) > 0 {
			fields = strings.Split(ins.Args, ",")
		}

		switch {
		case len(args) > len(fields):
			err = ErrOpcodeExtraArgs
			continue
		case len(args) < len(fields):
			err = ErrOpcodeValueMissing
			continue
		}

		code, label, link, err = asm.encodeArgs(ins, fields, args, pc)
		if err == nil {
			return
		}
	}

	return
}

// encodeArgs inserts the operands into the instruction's fields.
func (asm *Assembler) encodeArgs(ins *Instruction, fields []string, args []string, pc int) (code Code, label string, link Link, err error) {
	code = ins.Match

	for n, field := range fields {
		arg := args[n]

		var r, v int
		switch field {
		case "Rd", "Rdu", "Rdw", "Rdwp", "Rr", "Rrw":
			r, err = register(arg)
			if err != nil {
				return
			}
		case "K":
			if match := reByteOf.FindStringSubmatch(arg); match != nil {
				equ, ok := asm.Equate[match[2]]
				if !ok {
					label, link = match[2], byteLinks[match[1]]
					continue
				}
				v, err = asm.valueOf(equ)
				if err != nil {
					return
				}
				code, err = byteLinks[match[1]].patch(code, pc, v)
				if err != nil {
					return
				}
				continue
			}
			v, err = asm.valueIn(arg, -128, 255)
		case "K6", "A":
			v, err = asm.valueIn(arg, 0, 63)
		case "Al":
			v, err = asm.valueIn(arg, 0, 31)
		case "b", "s":
			v, err = asm.valueIn(arg, 0, 7)
		case "k12", "k7":
			lnk := LINK_K12
			if field == "k7" {
				lnk = LINK_K7
			}
			if arg == "." {
				v = pc
			} else {
				var verr error
				v, verr = asm.valueOf(arg)
				if verr != nil {
					if !reLabel.MatchString(arg) {
						err = verr
						return
					}
					label, link = arg, lnk
					continue
				}
			}
			code, err = lnk.patch(code, pc, v)
			if err != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		switch field {
		case "Rd":
			code |= Code(r) << 4
			if ins.Same {
				code |= Code(r&0x10)<<5 | Code(r&0xf)
			}
		case "Rdu":
			if r < 16 {
				err = fmt.Errorf("%w: %v", ErrRegisterInvalid, arg)
				return
			}
			code |= Code(r-16) << 4
		case "Rdw":
			if r&1 != 0 {
				err = fmt.Errorf("%w: %v", ErrRegisterInvalid, arg)
				return
			}
			code |= Code(r>>1) << 4
		case "Rdwp":
			if r < 24 || r&1 != 0 {
				err = fmt.Errorf("%w: %v", ErrRegisterInvalid, arg)
				return
			}
			code |= Code((r-24)>>1) << 4
		case "Rr":
			code |= Code(r&0x10)<<5 | Code(r&0xf)
		case "Rrw":
			if r&1 != 0 {
				err = fmt.Errorf("%w: %v", ErrRegisterInvalid, arg)
				return
			}
			code |= Code(r >> 1)
		case "K":
			v &= 0xff
			code |= Code(v&0xf0)<<4 | Code(v&0xf)
		case "K6":
			code |= Code(v&0x30)<<2 | Code(v&0xf)
		case "A":
			code |= Code(v&0x30)<<5 | Code(v&0xf)
		case "Al":
			code |= Code(v) << 3
		case "b":
			code |= Code(v)
		case "s":
			code |= Code(v) << 4
		default:
			// Index pointer, such as X+ or -Z
			if !strings.EqualFold(arg, field) {
				err = fmt.Errorf("%w: %v", ErrPointerInvalid, arg)
				return
			}
		}
	}

	return
}

// unquote decodes a string literal operand.
func unquote(word string) (data []byte, err error) {
	str, err := strconv.Unquote(word)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDirectiveSyntax, word)
		return
	}

	data = []byte(str)
	return
}

// parseWords evaluates the words in a line of assembly text.
func (asm *Assembler) parseWords(words []string, lineno int) (err error) {
	// no-op
	if len(words) == 0 {
		return
	}

	pc := asm.currentPc()
	opcode := Opcode{LineNo: lineno, Pc: pc, Words: words}

	emit := func(op Opcode) {
		if asm.Verbose {
			log.Printf("cpu: 0x%04x % x %v", op.Pc, op.Data, op.Words)
		}
		asm.Opcode = append(asm.Opcode, op)
	}

	switch words[0] {
	case ".org":
		if len(words) != 2 {
			err = ErrDirectiveSyntax
			return
		}
		opcode.Pc, err = asm.valueIn(words[1], 0, 0xffff)
		if err != nil {
			return
		}
		if opcode.Pc < pc {
			err = ErrOrgBackwards
			return
		}
		emit(opcode)
	case ".align":
		if len(words) != 2 {
			err = ErrDirectiveSyntax
			return
		}
		var align int
		align, err = asm.valueIn(words[1], 1, 256)
		if err != nil {
			return
		}
		if pc%align != 0 {
			opcode.Data = make([]byte, align-pc%align)
			emit(opcode)
		}
	case ".db":
		if len(words) < 2 {
			err = ErrOpcodeValueMissing
			return
		}
		for _, word := range words[1:] {
			if strings.HasPrefix(word, `"`) {
				var data []byte
				data, err = unquote(word)
				if err != nil {
					return
				}
				opcode.Data = append(opcode.Data, data...)
				continue
			}
			var value int
			value, err = asm.valueIn(word, -128, 255)
			if err != nil {
				return
			}
			opcode.Data = append(opcode.Data, byte(value))
		}
		emit(opcode)
	case ".dw":
		if len(words) < 2 {
			err = ErrOpcodeValueMissing
			return
		}
		// One opcode per word, so each may link its own label.
		for _, word := range words[1:] {
			op := Opcode{LineNo: lineno, Pc: pc, Words: []string{".dw", word}, Data: make([]byte, 2)}
			value, verr := asm.valueIn(word, -0x8000, 0xffff)
			switch {
			case verr == nil:
				binary.LittleEndian.PutUint16(op.Data, uint16(value))
			case reLabel.MatchString(word):
				op.LinkLabel = word
				op.Link = LINK_WORD
			default:
				err = verr
				return
			}
			emit(op)
			pc += 2
		}
	case ".string", ".asciz", ".ascii":
		if len(words) != 2 {
			err = ErrDirectiveSyntax
			return
		}
		opcode.Data, err = unquote(words[1])
		if err != nil {
			return
		}
		if words[0] != ".ascii" {
			opcode.Data = append(opcode.Data, 0)
		}
		emit(opcode)
	default:
		if pc&1 != 0 {
			err = ErrOpcodeAlign
			return
		}
		var code Code
		code, opcode.LinkLabel, opcode.Link, err = asm.encode(words, pc)
		if err != nil {
			return
		}
		opcode.Data = binary.LittleEndian.AppendUint16(nil, uint16(code))
		emit(opcode)
	}

	return
}
