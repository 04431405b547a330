package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

// schedulerStopTimeout bounds the wait for in-flight scheduler jobs on shutdown.
const schedulerStopTimeout = 2 * time.Second

func printVersion() {
	fmt.Printf("timerplus v%s\n", version)
	fmt.Println("Single-timer countdown/stopwatch daemon driven by four buttons")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  timerplus [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Runs one timer that counts down to an alarm or up as a stopwatch.")
	fmt.Println("  Buttons come from Linux input devices, the IPC socket (timerctl) or")
	fmt.Println("  WebSocket clients. State is published on the WebSocket (timerwatch)")
	fmt.Println("  and persisted across restarts.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device (repeatable); overrides input.devices")
	fmt.Println()
	fmt.Println("  -long-press-ms int")
	fmt.Printf("        Hold duration for a long press in ms (default %d)\n", defaultLongPressMS)
	fmt.Println()
	fmt.Println("  -state-file string")
	fmt.Printf("        Timer state file (default %q)\n", defaultStateFile)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -http-addr string")
	fmt.Printf("        HTTP listen address for the state WebSocket; empty disables (default %q)\n", defaultHTTPAddr)
	fmt.Println()
	fmt.Println("  -reset-state")
	fmt.Println("        Discard the persisted timer before starting")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("BUTTONS:")
	fmt.Println("  back    +/-60 (new/edit), exit edit, quit")
	fmt.Println("  up      +/-20, hold toggles direction")
	fmt.Println("  select  +/-5, play/pause, hold restarts or edits")
	fmt.Println("  down    +/-1, hold quits and resets on next launch")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - Without input devices the timer is driven only through IPC and WebSocket")
	fmt.Println()
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var devices stringList
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		longPressMS = flag.Int("long-press-ms", defaultLongPressMS, "Hold duration for a long press in ms")
		stateFile   = flag.String("state-file", defaultStateFile, "Timer state file")
		ipcSocket   = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		httpAddr    = flag.String("http-addr", defaultHTTPAddr, "HTTP listen address for the state WebSocket (empty disables)")
		resetState  = flag.Bool("reset-state", false, "Discard the persisted timer before starting")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_           = flag.Bool("version", false, "Print version and exit")
		_           = flag.Bool("help", false, "Print help message")
	)
	flag.Var(&devices, "input-device", "Linux input event device (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-device":
			ov.InputDevices = (*[]string)(&devices)
		case "long-press-ms":
			ov.LongPressMS = longPressMS
		case "state-file":
			ov.StateFile = stateFile
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "http-addr":
			ov.HTTPAddr = httpAddr
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, os.Stdout)

	if err := run(cfg, *resetState, logger); err != nil {
		logger.Error("timerplus exited with error", "error", err)
		os.Exit(1)
	}
}

// loadState restores the persisted timer. A missing or unreadable record
// starts fresh in New mode.
func loadState(store *TimerStore, now time.Time, logger *slog.Logger) *DaemonState {
	nowMs := now.UnixMilli()

	data, err := store.Load()
	if err != nil {
		logger.Warn("could not read timer state; starting fresh", "path", store.Path(), "error", err)
		return NewDaemonState(NewTimer(nowMs), true)
	}
	if data == nil {
		logger.Info("no saved timer; starting fresh", "path", store.Path())
		return NewDaemonState(NewTimer(nowMs), true)
	}

	t, resetOnInit, err := DecodeTimerRecord(data, nowMs)
	if err != nil {
		logger.Warn("discarding saved timer", "path", store.Path(), "error", err)
		return NewDaemonState(t, true)
	}
	return NewDaemonState(t, resetOnInit)
}

func run(cfg Config, resetState bool, logger *slog.Logger) (err error) {
	clock := SystemClock

	keymap, err := cfg.Keymap()
	if err != nil {
		return err
	}

	store := NewTimerStore(ExpandPath(cfg.State.File))
	if resetState {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("reset state: %w", err)
		}
		logger.Info("persisted timer discarded", "path", store.Path())
	}
	state := loadState(store, clock.Now(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Central event bus: input, IPC, WebSocket and scheduler all feed it.
	events := make(chan Event, defaultEventBuffer)

	post := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	// The scheduler outlives ctx so the final Terminate can still arm the
	// wakeup; it is stopped after the daemon loop returns.
	sched, err := newJobScheduler(post, logger.With("component", "scheduler"), schedulerStopTimeout)
	if err != nil {
		return err
	}
	sched.Start(context.Background())
	defer func() {
		multierr.AppendInto(&err, sched.Stop(context.Background()))
	}()

	var files []*os.File
	if len(cfg.Input.Devices) > 0 {
		files, err = openInputDevices(cfg.Input.Devices)
		if err != nil {
			return fmt.Errorf("%w (run as root or add user to 'input' group)", err)
		}
		defer func() {
			if cerr := closeInputDevices(files); cerr != nil {
				multierr.AppendInto(&err, fmt.Errorf("close input devices: %w", cerr))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	var broadcasts chan StateBroadcast
	var wsServer *Server
	if cfg.HTTP.ListenAddr != "" {
		broadcasts = make(chan StateBroadcast, defaultBroadcastBuf)
		wsServer = NewServer(logger.With("component", "ws"), events, ServerConfig{
			Hub: HubConfig{BroadcastBuf: defaultBroadcastBuf},
		})
	}

	eff := Effects{
		Scheduler: sched,
		Vibrator:  newLogVibrator(logger.With("component", "vibrator")),
		Store:     store,
	}

	g.Go(func() error {
		runDaemon(gctx, events, cfg.ToControlConfig(), state, eff, broadcasts, clock, logger.With("component", "daemon"))
		if broadcasts != nil {
			close(broadcasts)
		}
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger.With("component", "ipc"))
	})

	if wsServer != nil {
		mux := http.NewServeMux()
		wsServer.Register(mux, cfg.HTTP.WSPath)
		registerHealth(mux, wsServer.Hub())

		g.Go(func() error {
			wsServer.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, wsServer.Hub(), broadcasts, logger.With("component", "ws"))
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.ListenAddr, mux, logger.With("component", "http"))
		})
	}

	if len(files) > 0 {
		raw := make(chan inputEvent, defaultEventBuffer)
		readErr := make(chan error, len(files))
		stopInput := make(chan struct{})
		startInputReaders(files, raw, readErr, stopInput)

		inputLogger := logger.With("component", "input")
		rec := NewClickRecognizer(clock, time.Duration(cfg.Input.LongPressMS)*time.Millisecond, func(ev ButtonEvent) {
			post(ev)
		})

		g.Go(func() error {
			runButtonInput(gctx, raw, keymap, rec, inputLogger)
			return nil
		})
		g.Go(func() error {
			defer close(stopInput)
			select {
			case <-gctx.Done():
				return nil
			case err := <-readErr:
				return fmt.Errorf("input reader stopped: %w", err)
			}
		})
	}

	logger.Info("timerplus started",
		"version", version,
		"input_devices", cfg.Input.Devices,
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.ListenAddr,
		"state_file", store.Path(),
	)

	var runErr error
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		runErr = werr
	}
	// The last persist runs while the daemon loop drains; its failure is
	// only logged there.
	if serr := store.Err(); serr != nil {
		multierr.AppendInto(&runErr, fmt.Errorf("final state save: %w", serr))
	}
	logger.Info("shutdown complete")
	return runErr
}
