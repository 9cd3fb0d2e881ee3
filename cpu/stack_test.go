package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrames_Push(t *testing.T) {
	assert := assert.New(t)

	s := &Frames{}
	assert.True(s.Empty())
	assert.False(s.Full())

	s.Push(Frame{Return: 30, Target: 40})
	assert.False(s.Empty())
	assert.Equal(1, s.Depth())
	assert.Equal(Frame{Return: 30, Target: 40}, s.Data[0])
}

func TestFrames_Pop(t *testing.T) {
	assert := assert.New(t)

	s := &Frames{}
	s.Push(Frame{Return: 1})
	s.Push(Frame{Return: 2})

	frame, ok := s.Pop()
	assert.True(ok)
	assert.Equal(uint16(2), frame.Return)

	frame, ok = s.Peek()
	assert.True(ok)
	assert.Equal(uint16(1), frame.Return)

	_, ok = s.Pop()
	assert.True(ok)

	_, ok = s.Pop()
	assert.False(ok)
	assert.True(s.Empty())
}

func TestFrames_Full(t *testing.T) {
	assert := assert.New(t)

	s := &Frames{}
	for n := range FRAME_LIMIT + 3 {
		s.Push(Frame{Return: uint16(n)})
	}

	assert.True(s.Full())
	assert.Equal(FRAME_LIMIT, s.Depth())

	// Oldest frames are dropped.
	assert.Equal(uint16(3), s.Data[0].Return)
	frame, _ := s.Peek()
	assert.Equal(uint16(FRAME_LIMIT+2), frame.Return)

	s.Reset()
	assert.True(s.Empty())
}
