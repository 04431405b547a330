package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestReadInputEvents(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	want := []inputEvent{
		{Sec: 1, Usec: 2, Type: EV_KEY, Code: KEY_UP, Value: evValuePress},
		{Sec: 1, Usec: 9, Type: EV_KEY, Code: KEY_UP, Value: evValueRelease},
	}
	var buf bytes.Buffer
	for _, ev := range want {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, ev))
	}

	events := make(chan inputEvent, len(want))
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go readInputEvents(r, events, readErr, stop)

	_, err = w.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, ev := range want {
		select {
		case got := <-events:
			assert.Equal(t, ev, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for input event")
		}
	}

	select {
	case err := <-readErr:
		assert.Error(t, err, "EOF must be reported")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read error")
	}
}

func TestOpenInputDevices_ClosesOnFailure(t *testing.T) {
	dir := t.TempDir()
	ok := dir + "/ok"
	require.NoError(t, os.WriteFile(ok, nil, 0o644))

	_, err := openInputDevices([]string{ok, dir + "/missing"})
	assert.Error(t, err)

	files, err := openInputDevices([]string{ok})
	require.NoError(t, err)
	assert.Len(t, files, 1)
	require.NoError(t, closeInputDevices(files))

	// Closing again reports every failed close.
	files = append(files, files[0])
	err = closeInputDevices(files)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}
