// Package serial is the console port used by guest programs and the
// debugger. Output is a plain byte stream, input is read a byte at a time.
package serial

import (
	"io"
	"iter"
	"maps"
)

// Serial wraps an io.Reader for input and io.Writer for output.
type Serial struct {
	Input  io.Reader
	Output io.Writer

	Written int // Bytes sent to Output.
}

// Defines returns an iter of defines for the serial port.
func (sp *Serial) Defines() iter.Seq2[string, string] {
	return maps.All(map[string]string{
		"NEWLINE": "10",
	})
}

// WriteByte sends one byte. With no Output the byte is dropped.
func (sp *Serial) WriteByte(c byte) (err error) {
	if sp.Output == nil {
		return
	}

	_, err = sp.Output.Write([]byte{c})
	if err == nil {
		sp.Written++
	}

	return
}

// Write sends a buffer.
func (sp *Serial) Write(buf []byte) (n int, err error) {
	if sp.Output == nil {
		n = len(buf)
		return
	}

	n, err = sp.Output.Write(buf)
	sp.Written += n
	return
}

// Print sends a string.
func (sp *Serial) Print(s string) (err error) {
	_, err = io.WriteString(sp, s)
	return
}

// Println sends a string followed by a newline.
func (sp *Serial) Println(s string) (err error) {
	err = sp.Print(s)
	if err != nil {
		return
	}

	err = sp.WriteByte('\n')
	return
}

// ReadByte receives one byte, or io.EOF when there is no more input.
func (sp *Serial) ReadByte() (c byte, err error) {
	if sp.Input == nil {
		err = io.EOF
		return
	}

	var one [1]byte
	_, err = io.ReadFull(sp.Input, one[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return
	}

	c = one[0]
	return
}

// Receive returns an iterator that yields input bytes until the input
// is exhausted.
func (sp *Serial) Receive() iter.Seq[byte] {
	return func(yield func(c byte) bool) {
		for {
			c, err := sp.ReadByte()
			if err != nil {
				return
			}
			if !yield(c) {
				return
			}
		}
	}
}
