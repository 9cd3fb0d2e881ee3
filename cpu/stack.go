package cpu

const (
	FRAME_LIMIT = 32 // Maximum tracked call depth
)

// Frame is one tracked subroutine call.
type Frame struct {
	Return uint16 // Address after the call.
	Target uint16 // Called address.
}

// Frames shadows the guest call stack for the debugger. The guest stack
// lives in RAM and may be rewritten by the program, so this is only a
// best effort record.
type Frames struct {
	Data []Frame
}

// Push records a call. When full, the oldest frame is dropped.
func (s *Frames) Push(frame Frame) {
	if s.Full() {
		s.Data = append(s.Data[:0], s.Data[1:]...)
	}
	s.Data = append(s.Data, frame)
}

func (s *Frames) Pop() (frame Frame, ok bool) {
	frame, ok = s.Peek()
	if ok {
		s.Data = s.Data[:len(s.Data)-1]
	}
	return
}

func (s *Frames) Empty() bool {
	return len(s.Data) == 0
}

func (s *Frames) Full() bool {
	return len(s.Data) == FRAME_LIMIT
}

func (s *Frames) Depth() int {
	return len(s.Data)
}

func (s *Frames) Peek() (frame Frame, ok bool) {
	if s.Empty() {
		return
	}

	return s.Data[len(s.Data)-1], true
}

func (s *Frames) Reset() {
	if len(s.Data) > 0 {
		s.Data = s.Data[:0]
	}
}
