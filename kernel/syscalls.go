package kernel

import (
	"log"

	"github.com/goldos/goldos/cpu"
	"github.com/goldos/goldos/file"
)

// Syscall register usage, argument n in r24-2n:
//
//	SYS_SERIAL_WRITE     (c)              -> r24:r25 bytes written
//	SYS_SERIAL_PRINT     (str)            -> r24:r25 bytes written
//	SYS_SERIAL_PRINT_P   (program str)    -> r24:r25 bytes written
//	SYS_SERIAL_PRINTLN   (str)            -> r24:r25 bytes written
//	SYS_SERIAL_PRINTLN_P (program str)    -> r24:r25 bytes written
//	SYS_FILE_OPEN        (name, mode)     -> r24 handle
//	SYS_FILE_NAME        (h, buf)         -> r24 name length
//	SYS_FILE_SIZE        (h)              -> r24:r25 size
//	SYS_FILE_POSITION    (h)              -> r24:r25 position
//	SYS_FILE_SEEK        (h, pos)         -> r24 true on success
//	SYS_FILE_READ        (h, buf, len)    -> r24:r25 bytes read
//	SYS_FILE_WRITE       (h, buf, len)    -> r24:r25 bytes written
//	SYS_FILE_CLOSE       (h)              -> r24 true on success
//
// Strings and buffers are in the data space, except for the _P variants
// which read program memory. A SYS_FILE_WRITE length of FAILURE_16 writes
// buf as a NUL terminated string. Failures return FAILURE_8 or FAILURE_16.

func (k *Kernel) syscalls() (vector [cpu.VECTOR_COUNT]cpu.Syscall) {
	vector[cpu.SYS_SERIAL_WRITE] = k.sysSerialWrite
	vector[cpu.SYS_SERIAL_PRINT] = k.sysSerialPrint(false, false)
	vector[cpu.SYS_SERIAL_PRINT_P] = k.sysSerialPrint(true, false)
	vector[cpu.SYS_SERIAL_PRINTLN] = k.sysSerialPrint(false, true)
	vector[cpu.SYS_SERIAL_PRINTLN_P] = k.sysSerialPrint(true, true)
	vector[cpu.SYS_FILE_OPEN] = k.sysFileOpen
	vector[cpu.SYS_FILE_NAME] = k.sysFileName
	vector[cpu.SYS_FILE_SIZE] = k.sysFileSize
	vector[cpu.SYS_FILE_POSITION] = k.sysFilePosition
	vector[cpu.SYS_FILE_SEEK] = k.sysFileSeek
	vector[cpu.SYS_FILE_READ] = k.sysFileRead
	vector[cpu.SYS_FILE_WRITE] = k.sysFileWrite
	vector[cpu.SYS_FILE_CLOSE] = k.sysFileClose

	return
}

func (k *Kernel) failed(index int, err error) bool {
	if err == nil {
		return false
	}

	if k.Verbose {
		log.Printf("kernel: %v: %v", cpu.VectorName(index), err)
	}
	return true
}

// count returns n, or the 16 bit failure value.
func (k *Kernel) count(index int, n int, err error) uint16 {
	if k.failed(index, err) {
		return FAILURE_16
	}
	return uint16(n)
}

func handle(p *cpu.Processor) int8 {
	return int8(p.Arg8(0))
}

func (k *Kernel) sysSerialWrite(p *cpu.Processor) {
	err := k.Serial.WriteByte(p.Arg8(0))
	p.Return16(k.count(cpu.SYS_SERIAL_WRITE, 1, err))
}

func (k *Kernel) sysSerialPrint(program bool, newline bool) cpu.Syscall {
	index := cpu.SYS_SERIAL_PRINT
	switch {
	case program && newline:
		index = cpu.SYS_SERIAL_PRINTLN_P
	case program:
		index = cpu.SYS_SERIAL_PRINT_P
	case newline:
		index = cpu.SYS_SERIAL_PRINTLN
	}

	return func(p *cpu.Processor) {
		var text string
		if program {
			text = p.LoadProgramString(p.Arg16(0))
		} else {
			text = p.LoadString(p.Arg16(0))
		}
		if newline {
			text += "\n"
		}

		n, err := k.Serial.Write([]byte(text))
		p.Return16(k.count(index, n, err))
	}
}

func (k *Kernel) sysFileOpen(p *cpu.Processor) {
	name := p.LoadString(p.Arg16(0))
	h, err := k.Files.Open(name, file.Mode(p.Arg8(1)))
	k.failed(cpu.SYS_FILE_OPEN, err)
	p.Return8(uint8(h))
}

func (k *Kernel) sysFileName(p *cpu.Processor) {
	name, err := k.Files.Name(handle(p))
	if k.failed(cpu.SYS_FILE_NAME, err) {
		p.Return8(FAILURE_8)
		return
	}

	p.StoreBytes(p.Arg16(1), append([]byte(name), 0))
	p.Return8(uint8(len(name)))
}

func (k *Kernel) sysFileSize(p *cpu.Processor) {
	size, err := k.Files.Size(handle(p))
	p.Return16(k.count(cpu.SYS_FILE_SIZE, int(size), err))
}

func (k *Kernel) sysFilePosition(p *cpu.Processor) {
	pos, err := k.Files.Position(handle(p))
	p.Return16(k.count(cpu.SYS_FILE_POSITION, int(pos), err))
}

func (k *Kernel) sysFileSeek(p *cpu.Processor) {
	err := k.Files.Seek(handle(p), int(p.Arg16(1)))
	p.ReturnBool(!k.failed(cpu.SYS_FILE_SEEK, err))
}

func (k *Kernel) sysFileRead(p *cpu.Processor) {
	buf := make([]byte, p.Arg16(2))
	n, err := k.Files.Read(handle(p), buf)
	if err == nil {
		p.StoreBytes(p.Arg16(1), buf[:n])
	}
	p.Return16(k.count(cpu.SYS_FILE_READ, n, err))
}

func (k *Kernel) sysFileWrite(p *cpu.Processor) {
	var n int
	var err error
	if size := p.Arg16(2); size == FAILURE_16 {
		n, err = k.Files.WriteString(handle(p), p.LoadString(p.Arg16(1)))
	} else {
		buf := make([]byte, size)
		p.LoadBytes(p.Arg16(1), buf)
		n, err = k.Files.Write(handle(p), buf)
	}
	p.Return16(k.count(cpu.SYS_FILE_WRITE, n, err))
}

func (k *Kernel) sysFileClose(p *cpu.Processor) {
	err := k.Files.Close(handle(p))
	p.ReturnBool(!k.failed(cpu.SYS_FILE_CLOSE, err))
}
