package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets local tools drive the timer:
//   - Simulated button presses (timerctl, scripts)
//   - Launch / terminate of the foreground app
//   - State queries ("get_state")
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//   - "get_state" responds with {"status": "ok", "state": {...}}
// ============================================================================

// ipcGetState is the request type answered with a state snapshot instead of
// being forwarded as an event.
const ipcGetState = "get_state"

// ipcSnapshotTimeout bounds how long a get_state request waits on the daemon.
const ipcSnapshotTimeout = time.Second

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string             `json:"status"`          // "ok" or "error"
	Error  string             `json:"error,omitempty"` // error message if status == "error"
	State  *wsMessageSnapshot `json:"state,omitempty"`
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	reply := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "status", resp.Status, "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		var env EventEnvelope
		if err := json.Unmarshal(line, &env); err == nil && env.Type == ipcGetState {
			reply(requestIPCSnapshot(ctx, events))
			continue
		}

		// Payload events only; the daemon assigns timestamps via TimedEvent.
		ev, err := UnmarshalEvent(line)
		if err != nil {
			reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		select {
		case events <- ev:
			reply(IPCResponse{Status: "ok"})
		default:
			reply(IPCResponse{Status: "error", Error: "event queue full"})
		}
	}

	logger.Debug("IPC connection closed")
}

// requestIPCSnapshot asks the daemon loop for a snapshot and wraps it.
func requestIPCSnapshot(ctx context.Context, events chan<- Event) IPCResponse {
	ctx, cancel := context.WithTimeout(ctx, ipcSnapshotTimeout)
	defer cancel()

	ch := make(chan StateSnapshot, 1)
	select {
	case events <- RequestStateSnapshot{Reply: ch}:
	case <-ctx.Done():
		return IPCResponse{Status: "error", Error: "snapshot request: " + ctx.Err().Error()}
	}

	select {
	case snap := <-ch:
		state := newWSMessageSnapshot(snap)
		return IPCResponse{Status: "ok", State: &state}
	case <-ctx.Done():
		return IPCResponse{Status: "error", Error: "snapshot reply: " + ctx.Err().Error()}
	}
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================

// SendIPCEvent sends an event to the daemon via IPC and returns the response
func SendIPCEvent(socketPath string, ev Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = sendIPCLine(socketPath, data)
	return err
}

// QueryIPCState fetches the current timer state from the daemon.
func QueryIPCState(socketPath string) (*wsMessageSnapshot, error) {
	data, err := json.Marshal(EventEnvelope{Type: ipcGetState})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := sendIPCLine(socketPath, data)
	if err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, errors.New("ipc: response carries no state")
	}
	return resp.State, nil
}

func sendIPCLine(socketPath string, data []byte) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
