//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// epollWaitMs bounds each epoll_wait so the reader notices stop.
const epollWaitMs = 250

// startInputReaders reads every device from a single epoll goroutine.
func startInputReaders(files []*os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	go readInputEventsEpoll(files, events, readErr, stop)
}

// readInputEventsEpoll reads from multiple input devices using epoll
//
// Instead of:
//   - N goroutines, each blocking on read()
//
// We use:
//   - 1 goroutine with epoll
//   - Kernel wakes us only when events are available
func readInputEventsEpoll(files []*os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	fail := func(err error) {
		select {
		case readErr <- err:
		case <-stop:
		}
	}

	if len(files) == 0 {
		fail(fmt.Errorf("no input devices provided"))
		return
	}

	// Create epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		fail(fmt.Errorf("epoll_create1: %w", err))
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File, len(files))

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			fail(fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err))
			return
		}
	}

	const maxEvents = 16
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			fail(fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				// Any device error is fatal; the daemon exits and gets restarted.
				fail(fmt.Errorf("device error/hangup: %s", f.Name()))
				return
			}

			if _, err := f.Read(buf); err != nil {
				fail(fmt.Errorf("read from %s: %w", f.Name(), err))
				return
			}

			ev, err := decodeInputEvent(reader, buf)
			if err != nil {
				// Skip malformed events
				continue
			}

			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}
}
