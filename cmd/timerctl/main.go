package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// ============================================================================
// timerctl - Command-line IPC Client
// ============================================================================
// Sends button presses and lifecycle events to the timerplus daemon and
// queries its state.
//
// Usage:
//   timerctl press select
//   timerctl press up long
//   timerctl status
//   timerctl console
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/timerplus.sock)
// ============================================================================

const defaultSocketPath = "/tmp/timerplus.sock"

// EventEnvelope wraps events for JSON (mirrors the daemon's wire format)
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type buttonData struct {
	Button string `json:"button"`
	Press  string `json:"press"`
}

type reasonData struct {
	Reason string `json:"reason"`
}

// State is the daemon's snapshot as returned by get_state.
type State struct {
	DisplayValueMs     int64  `json:"display_value_ms"`
	Hours              int64  `json:"hours"`
	Minutes            int64  `json:"minutes"`
	Seconds            int64  `json:"seconds"`
	IsChrono           bool   `json:"is_chrono"`
	IsPaused           bool   `json:"is_paused"`
	IsVibrating        bool   `json:"is_vibrating"`
	BaseLengthMs       int64  `json:"base_length_ms"`
	IsRepeating        bool   `json:"is_repeating"`
	RepeatCount        uint   `json:"repeat_count"`
	Mode               string `json:"mode"`
	IsEditingExisting  bool   `json:"is_editing_existing"`
	IsReverseDirection bool   `json:"is_reverse_direction"`
	Foreground         bool   `json:"foreground"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	State  *State `json:"state,omitempty"`
}

var buttons = map[string]string{
	"back": "back", "b": "back",
	"up": "up", "u": "up",
	"select": "select", "s": "select",
	"down": "down", "d": "down",
}

var presses = map[string]string{
	"short": "short", "long": "long", "down": "down",
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return

	case "console":
		if err := runConsole(socketPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	out, err := execute(socketPath, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// execute runs one command and returns the text to print.
func execute(socketPath string, args []string) (string, error) {
	switch args[0] {
	case "press", "p":
		env, err := buttonEnvelope(args[1:])
		if err != nil {
			return "", err
		}
		if _, err := send(socketPath, env); err != nil {
			return "", err
		}
		return "ok", nil

	case "launch":
		_, err := send(socketPath, reasonEnvelope("launch", "timerctl"))
		if err != nil {
			return "", err
		}
		return "ok", nil

	case "terminate", "quit":
		_, err := send(socketPath, reasonEnvelope("terminate", "timerctl"))
		if err != nil {
			return "", err
		}
		return "ok", nil

	case "status", "state":
		resp, err := send(socketPath, EventEnvelope{Type: "get_state"})
		if err != nil {
			return "", err
		}
		if resp.State == nil {
			return "", errors.New("daemon returned no state")
		}
		return formatState(*resp.State), nil

	default:
		return "", fmt.Errorf("unknown command: %s", args[0])
	}
}

func buttonEnvelope(args []string) (EventEnvelope, error) {
	if len(args) == 0 {
		return EventEnvelope{}, errors.New("press requires a button (back, up, select, down)")
	}
	b, ok := buttons[strings.ToLower(args[0])]
	if !ok {
		return EventEnvelope{}, fmt.Errorf("unknown button: %s", args[0])
	}
	p := "short"
	if len(args) > 1 {
		if p, ok = presses[strings.ToLower(args[1])]; !ok {
			return EventEnvelope{}, fmt.Errorf("unknown press: %s (want short, long or down)", args[1])
		}
	}
	data, err := json.Marshal(buttonData{Button: b, Press: p})
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal button: %w", err)
	}
	return EventEnvelope{Type: "button", Data: data}, nil
}

func reasonEnvelope(typ, reason string) EventEnvelope {
	data, _ := json.Marshal(reasonData{Reason: reason})
	return EventEnvelope{Type: typ, Data: data}
}

func send(socketPath string, env EventEnvelope) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func formatState(s State) string {
	sign := ""
	if s.IsChrono {
		sign = "+"
	}
	clock := fmt.Sprintf("%s%d:%02d", sign, s.Minutes, s.Seconds)
	if s.Hours > 0 {
		clock = fmt.Sprintf("%s%d:%02d:%02d", sign, s.Hours, s.Minutes, s.Seconds)
	}

	var flags []string
	if s.IsPaused {
		flags = append(flags, "paused")
	}
	if s.IsVibrating {
		flags = append(flags, "alarm")
	}
	if s.IsRepeating {
		flags = append(flags, fmt.Sprintf("repeat x%d", s.RepeatCount))
	}
	if s.IsReverseDirection {
		flags = append(flags, "reverse")
	}
	if !s.Foreground {
		flags = append(flags, "background")
	}

	out := fmt.Sprintf("%s  mode=%s", clock, s.Mode)
	if len(flags) > 0 {
		out += "  [" + strings.Join(flags, ", ") + "]"
	}
	return out
}

// runConsole reads commands interactively. Single letters press buttons:
// b/u/s/d short, B/U/S/D long.
func runConsole(socketPath string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "timer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "b/u/s/d press back/up/select/down, capital for long; status; exit")

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			printUsage()
			continue
		}

		args := consoleArgs(input)
		out, err := execute(socketPath, args)
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			continue
		}
		if args[0] == "press" {
			// Show the result of the press.
			out, err = execute(socketPath, []string{"status"})
			if err != nil {
				fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
				continue
			}
		}
		fmt.Fprintln(rl.Stdout(), out)
	}
}

func consoleArgs(input string) []string {
	if len(input) == 1 {
		lower := strings.ToLower(input)
		if _, ok := buttons[lower]; ok {
			press := "short"
			if lower != input {
				press = "long"
			}
			return []string{"press", lower, press}
		}
	}
	return strings.Fields(input)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `timerctl - Control the timerplus daemon via IPC

Usage:
  timerctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  press, p <button> [short|long|down]   Simulate a button (back, up, select, down)
  launch                                Bring the timer app to the foreground
  terminate, quit                       Send the timer app to the background
  status, state                         Print the current timer state
  console                               Interactive button console
  help, -h, --help                      Show this help message

Examples:
  timerctl press select
  timerctl press up long
  timerctl -socket /run/timerplus.sock status
`, defaultSocketPath)
}
