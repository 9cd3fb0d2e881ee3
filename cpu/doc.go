// Package cpu implements the processor and assembler for GoldOS programs.
//
// The processor executes a subset of the AVR instruction set directly out
// of the byte store. It has 32 registers (r26:r27, r28:r29 and r30:r31 are
// the X, Y and Z index pairs), a status register, a 10 bit stack pointer
// and 128 bytes of RAM. The program counter is a byte offset from the
// program base address in the store.
//
// Program addresses 2 through 26 form the syscall vector. Fetching from
// one of them runs a host function instead of the instruction there, and
// then returns to the caller.
//
// The assembler provides an AVR style assembly language for the supported
// instructions, with macros, labels, equates, and compile-time expression
// evaluation.
package cpu
