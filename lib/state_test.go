package lib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestSessionStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	st := &SessionState{Sid: testSid(), Sttl: 60000, NextSeq: 103, LastAck: 102}

	if err := st.Save(path); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != StateLength {
		t.Errorf("state file holds %d bytes, want exactly %d", len(raw), StateLength)
	}

	got, err := LoadSessionState(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *st {
		t.Errorf("got %+v, want %+v", got, st)
	}
}

func TestLoadSessionStateMissing(t *testing.T) {
	if _, err := LoadSessionState(filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Error("missing state file must be an error")
	}
}

func TestLoadSessionStateTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	if err := os.WriteFile(path, make([]byte, StateLength-1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSessionState(path); !errors.Is(err, ErrBadState) {
		t.Errorf("got %v, want ErrBadState", err)
	}
}
