package lib

import (
	"encoding/binary"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StateLength is the exact size of the persisted session state on disk.
const StateLength = 28

// SessionState is the on-disk bridge between a disconnected session and a
// later revive. Layout, little-endian:
//
//	offset  0..16  sid
//	offset 16..20  sttl
//	offset 20..24  nextSeq
//	offset 24..28  lastAck
type SessionState struct {
	Sid     uuid.UUID
	Sttl    uint32
	NextSeq uint32
	LastAck uint32
}

// Save writes the state to path. Called only after the disconnect ACK has
// been observed.
func (st *SessionState) Save(path string) error {
	buf := make([]byte, StateLength)
	copy(buf[0:16], st.Sid[:])
	binary.LittleEndian.PutUint32(buf[16:20], st.Sttl)
	binary.LittleEndian.PutUint32(buf[20:24], st.NextSeq)
	binary.LittleEndian.PutUint32(buf[24:28], st.LastAck)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.Wrapf(err, "saving session state to %s", path)
	}
	return nil
}

// LoadSessionState reads the state written by Save. A missing or truncated
// file is fatal for revive.
func LoadSessionState(path string) (*SessionState, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading session state from %s", path)
	}
	if len(buf) < StateLength {
		return nil, errors.Wrapf(ErrBadState, "%s holds %d bytes, want %d", path, len(buf), StateLength)
	}

	st := &SessionState{}
	copy(st.Sid[:], buf[0:16])
	st.Sttl = binary.LittleEndian.Uint32(buf[16:20])
	st.NextSeq = binary.LittleEndian.Uint32(buf[20:24])
	st.LastAck = binary.LittleEndian.Uint32(buf[24:28])
	return st, nil
}
