//go:build linux || darwin

package core

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// mmapSegment is an anonymous private mapping with a PROT_NONE guard page
// below the usable region, the layout native stacks use.
type mmapSegment struct {
	mapping []byte
}

func (s *mmapSegment) Bytes() []byte { return s.mapping[pageSize:] }

func (s *mmapSegment) Free() error {
	if s.mapping == nil {
		return nil
	}
	err := unix.Munmap(s.mapping)
	s.mapping = nil
	return err
}

func allocSegment(size int) (segment, error) {
	mapping, err := unix.Mmap(-1, 0, size+pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size+pageSize, err)
	}
	if err := unix.Mprotect(mapping[:pageSize], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(mapping)
		return nil, fmt.Errorf("mprotect guard page: %w", err)
	}
	return &mmapSegment{mapping: mapping}, nil
}
