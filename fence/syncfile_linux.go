//go:build linux

package fence

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// FromFD wraps a sync_file descriptor. The returned Fence owns fd and
// closes it on [Fence.Close]. A negative fd yields an empty fence, matching
// the kernel convention of -1 for "no fence".
func FromFD(fd int) *Fence {
	if fd < 0 {
		return &Fence{}
	}
	return newFence(&syncFile{fd: fd})
}

// FD returns the sync_file descriptor when f wraps one. The descriptor stays
// owned by f.
func (f *Fence) FD() (int, bool) {
	if !f.Valid() {
		return -1, false
	}
	s, ok := f.p.(*syncFile)
	if !ok {
		return -1, false
	}
	return s.fd, true
}

// syncFile is a kernel sync_file: the descriptor polls readable once every
// fence behind it has signaled.
type syncFile struct {
	fd int
}

func (s *syncFile) wait(timeout time.Duration) (bool, error) {
	if s.fd < 0 {
		return false, ErrClosed
	}
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}} //nolint:gosec // fds fit int32
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, ErrInvalid
		}
		return true, nil
	}
}

func (s *syncFile) dup() (point, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}
	fd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, err
	}
	return &syncFile{fd: fd}, nil
}

func (s *syncFile) release() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}

func (s *syncFile) String() string {
	return fmt.Sprintf("sync_file(%d)", s.fd)
}
