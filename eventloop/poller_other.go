//go:build !linux

package eventloop

import (
	"sync/atomic"
	"time"

	"github.com/Swind/go-greenrt/core"
)

// chanPoller waits on a one-slot channel. It cannot watch file descriptors.
type chanPoller struct {
	wakeCh chan struct{}
	closed atomic.Bool
}

func newPoller() (poller, error) {
	return &chanPoller{wakeCh: make(chan struct{}, 1)}, nil
}

func (p *chanPoller) wait(timeout time.Duration) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if timeout < 0 {
		<-p.wakeCh
		return nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.wakeCh:
	case <-t.C:
	}
	return nil
}

func (p *chanPoller) wake() error {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *chanPoller) add(int, IOEvents, func(IOEvents)) error { return core.ErrUnsupported }

func (p *chanPoller) watched() int { return 0 }

func (p *chanPoller) close() error {
	if !p.closed.Swap(true) {
		_ = p.wake()
	}
	return nil
}
