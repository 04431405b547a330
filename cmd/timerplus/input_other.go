//go:build !linux

package main

import "os"

// startInputReaders spawns one blocking reader per device. Readers stop once
// stop is closed and their file is closed.
func startInputReaders(files []*os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	for _, f := range files {
		go readInputEvents(f, events, readErr, stop)
	}
}
