package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// timerRecordVersion tags the persisted blob layout. Bump it whenever the
// record changes shape; older blobs are then discarded with a reset.
const timerRecordVersion = 4

// ErrRecordVersion is returned when a persisted blob carries another version.
var ErrRecordVersion = errors.New("timer record version mismatch")

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create timer record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create timer record CBOR decoder mode: %v", err))
	}
}

// TimerRecord is the persisted form of the timer plus the launch flag.
// Integer keys keep the blob compact.
type TimerRecord struct {
	Version         uint64 `cbor:"1,keyasint"`
	LengthMs        int64  `cbor:"2,keyasint"`
	AnchorKind      uint8  `cbor:"3,keyasint"`
	AnchorMs        int64  `cbor:"4,keyasint"`
	BaseLengthMs    int64  `cbor:"5,keyasint"`
	CanVibrate      bool   `cbor:"6,keyasint"`
	AutoSnoozeCount uint   `cbor:"7,keyasint"`
	IsRepeating     bool   `cbor:"8,keyasint"`
	RepeatCount     uint   `cbor:"9,keyasint"`
	BaseRepeatCount uint   `cbor:"10,keyasint"`
	ResetOnInit     bool   `cbor:"11,keyasint"`
}

// NewTimerRecord captures t and the reset-on-launch flag.
func NewTimerRecord(t Timer, resetOnInit bool) TimerRecord {
	return TimerRecord{
		Version:         timerRecordVersion,
		LengthMs:        t.LengthMs,
		AnchorKind:      uint8(t.Anchor.Kind),
		AnchorMs:        t.Anchor.Ms,
		BaseLengthMs:    t.BaseLengthMs,
		CanVibrate:      t.CanVibrate,
		AutoSnoozeCount: t.AutoSnoozeCount,
		IsRepeating:     t.IsRepeating,
		RepeatCount:     t.RepeatCount,
		BaseRepeatCount: t.BaseRepeatCount,
		ResetOnInit:     resetOnInit,
	}
}

// Timer rebuilds the engine value from the record.
func (r TimerRecord) Timer() Timer {
	return Timer{
		LengthMs:        r.LengthMs,
		Anchor:          TimeAnchor{Kind: AnchorKind(r.AnchorKind), Ms: r.AnchorMs},
		BaseLengthMs:    r.BaseLengthMs,
		CanVibrate:      r.CanVibrate,
		AutoSnoozeCount: r.AutoSnoozeCount,
		IsRepeating:     r.IsRepeating,
		RepeatCount:     r.RepeatCount,
		BaseRepeatCount: r.BaseRepeatCount,
	}
}

// EncodeTimerRecord serializes r into an opaque blob.
func EncodeTimerRecord(r TimerRecord) ([]byte, error) {
	r.Version = timerRecordVersion
	return recordEncMode.Marshal(r)
}

// DecodeTimerRecord parses a blob. The returned timer is always usable: on a
// version mismatch or undecodable data it is a fresh reset timer and the error
// says why.
func DecodeTimerRecord(data []byte, now int64) (Timer, bool, error) {
	var r TimerRecord
	if err := recordDecMode.Unmarshal(data, &r); err != nil {
		return NewTimer(now), false, fmt.Errorf("decode timer record: %w", err)
	}
	if r.Version != timerRecordVersion {
		return NewTimer(now), false, fmt.Errorf("%w: have %d, want %d", ErrRecordVersion, r.Version, timerRecordVersion)
	}
	if AnchorKind(r.AnchorKind) != AnchorRunning && AnchorKind(r.AnchorKind) != AnchorPaused {
		return NewTimer(now), false, fmt.Errorf("decode timer record: invalid anchor kind %d", r.AnchorKind)
	}
	if r.AutoSnoozeCount > maxAutoSnooze {
		r.AutoSnoozeCount = maxAutoSnooze
	}
	return r.Timer(), r.ResetOnInit, nil
}

// TimerStore persists the timer blob to a single file.
type TimerStore struct {
	mu      sync.Mutex
	path    string
	lastErr error
}

// NewTimerStore creates a store writing to path.
func NewTimerStore(path string) *TimerStore {
	return &TimerStore{path: path}
}

// Path returns the backing file path.
func (s *TimerStore) Path() string { return s.path }

// Save writes the record atomically (temp file + rename).
func (s *TimerStore) Save(r TimerRecord) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.lastErr = err }()

	data, err := EncodeTimerRecord(r)
	if err != nil {
		return fmt.Errorf("encode timer record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".timer-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Err returns the error of the most recent Save, or nil if it succeeded.
// A failed final save is otherwise only visible in the log.
func (s *TimerStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Load reads the raw blob. Returns nil, nil if nothing was saved yet.
func (s *TimerStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

// Clear removes the state file.
func (s *TimerStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
