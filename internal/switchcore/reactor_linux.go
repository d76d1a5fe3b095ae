//go:build linux

package switchcore

import "golang.org/x/sys/unix"

// epollReactor implements reactor over a single epoll instance. Each
// registered fd's "user data" slot carries the session token (or
// workQueueToken) directly, rather than the fd itself — epoll returns that
// value verbatim on wait, so there is no separate fd→token lookup needed.
type epollReactor struct {
	epfd int
}

func newReactor() (reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollReactor{epfd: epfd}, nil
}

func (r *epollReactor) add(fd, token int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	ev.Fd = int32(token)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *epollReactor) remove(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (r *epollReactor) wait(timeoutMillis int) ([]int, error) {
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(r.epfd, events, timeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		tokens := make([]int, 0, n)
		for i := 0; i < n; i++ {
			tokens = append(tokens, int(events[i].Fd))
		}
		return tokens, nil
	}
}

func (r *epollReactor) close() error {
	return unix.Close(r.epfd)
}

var _ reactor = (*epollReactor)(nil)
