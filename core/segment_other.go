//go:build !(linux || darwin)

package core

type heapSegment struct {
	buf []byte
}

func (s *heapSegment) Bytes() []byte { return s.buf }

func (s *heapSegment) Free() error {
	s.buf = nil
	return nil
}

func allocSegment(size int) (segment, error) {
	return &heapSegment{buf: make([]byte, size)}, nil
}
