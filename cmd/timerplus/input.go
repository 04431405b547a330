package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// openInputDevices opens every device path read-only. On failure the files
// opened so far are closed again.
func openInputDevices(paths []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			_ = closeInputDevices(files)
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func closeInputDevices(files []*os.File) error {
	var err error
	for _, f := range files {
		multierr.AppendInto(&err, f.Close())
	}
	return err
}

// decodeInputEvent parses one raw event from buf.
func decodeInputEvent(reader *bytes.Reader, buf []byte) (inputEvent, error) {
	reader.Reset(buf)
	var ev inputEvent
	err := binary.Read(reader, binary.LittleEndian, &ev)
	return ev, err
}

// readInputEvents reads input events from a file descriptor and sends them to a channel
// This runs in a dedicated goroutine and blocks on read operations
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			select {
			case readErr <- fmt.Errorf("read from %s: %w", f.Name(), err):
			case <-stop:
			}
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
