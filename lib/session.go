package lib

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLocalWindow is the receive window a fresh session advertises.
const DefaultLocalWindow = 65535

// Outbound is a queued packet plus the timestamps retransmission needs.
type Outbound struct {
	Pkt       SlowPacket
	FirstSent time.Time // zero until the first transmission
	LastSent  time.Time // updated on every transmission, drives the RTO
}

// Session holds the state of one SLOW session: identifiers, sequence
// counters, both windows and the transmit queue.
type Session struct {
	sid          uuid.UUID
	sttlMs       uint32
	nextSeq      uint32
	lastAckRcvd  uint32
	localWindow  uint16
	remoteWindow uint16
	nextFid      uint8
	lastRxSeq    uint32
	txq          []*Outbound
}

func NewSession(localWindow uint16) *Session {
	return &Session{
		localWindow: localWindow,
		nextFid:     1,
	}
}

// Establish initializes the session from a SETUP packet (or the placeholder
// a revive reconstructs). Full replacement, not a merge.
func (s *Session) Establish(setup *SlowPacket) {
	s.sid = setup.Sid
	s.sttlMs = setup.Sttl
	s.nextSeq = setup.SeqNum + 1
	s.remoteWindow = setup.Window
	s.lastAckRcvd = setup.AckNum
}

// TakeSeq returns the next sequence number and advances the counter.
func (s *Session) TakeSeq() uint32 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

func (s *Session) PeekNextSeq() uint32     { return s.nextSeq }
func (s *Session) LastAck() uint32         { return s.lastAckRcvd }
func (s *Session) LocalWindowLeft() uint16 { return s.localWindow }
func (s *Session) Sid() uuid.UUID          { return s.sid }
func (s *Session) Sttl() uint32            { return s.sttlMs }
func (s *Session) Empty() bool             { return len(s.txq) == 0 }

// NoteRxSeq records the peer's seqnum for later ACK generation. Zero is
// ignored, guarding against uninitialized SETUP responses.
func (s *Session) NoteRxSeq(seq uint32) {
	if seq != 0 {
		s.lastRxSeq = seq
	}
}

func (s *Session) LastRxSeq() uint32 { return s.lastRxSeq }

// ConsumeLocalWindow shrinks the local window by n, saturating at 0.
func (s *Session) ConsumeLocalWindow(n int) {
	if n > int(s.localWindow) {
		s.localWindow = 0
		return
	}
	s.localWindow -= uint16(n)
}

// ReleaseLocalWindow grows the local window by n, clamping at 65535.
func (s *Session) ReleaseLocalWindow(n int) {
	grown := int(s.localWindow) + n
	if grown > DefaultLocalWindow {
		grown = DefaultLocalWindow
	}
	s.localWindow = uint16(grown)
}

// remoteWindowLeft is the advertised remote window minus the bytes already
// in flight (queued entries transmitted at least once). Computed on demand.
func (s *Session) remoteWindowLeft() int {
	inFlight := 0
	for _, ob := range s.txq {
		if !ob.LastSent.IsZero() {
			inFlight += len(ob.Pkt.Payload)
		}
	}
	if int(s.remoteWindow) > inFlight {
		return int(s.remoteWindow) - inFlight
	}
	return 0
}

// QueueData fragments payload into the transmit queue. The whole payload is
// always enqueued; ReadyToSend alone gates emission against the remote
// window, so a closed window delays packets instead of dropping a tail.
func (s *Session) QueueData(payload []byte, isRevive bool) {
	if len(payload) == 0 && isRevive {
		p := SlowPacket{
			Sid:    s.sid,
			Sttl:   s.sttlMs,
			Flags:  FlagRevive | FlagAck,
			SeqNum: s.TakeSeq(),
			AckNum: s.lastRxSeq,
			Window: s.LocalWindowLeft(),
		}
		s.txq = append(s.txq, &Outbound{Pkt: p})
		return
	}

	fragmented := len(payload) > MaxPayloadSize
	var fid uint8
	if fragmented {
		fid = s.nextFid
	}

	var fo uint8
	for off := 0; off < len(payload); {
		here := len(payload) - off
		if here > MaxPayloadSize {
			here = MaxPayloadSize
		}

		p := SlowPacket{
			Sid:    s.sid,
			Sttl:   s.sttlMs,
			Flags:  FlagAck,
			SeqNum: s.TakeSeq(),
			AckNum: s.lastRxSeq,
			Window: s.LocalWindowLeft(),
			Fid:    fid,
			Fo:     fo,
		}
		if isRevive && off == 0 {
			p.Flags |= FlagRevive
		}
		if off+here < len(payload) {
			p.Flags |= FlagMorebits
		}
		p.Payload = append([]byte(nil), payload[off:off+here]...)

		s.txq = append(s.txq, &Outbound{Pkt: p})
		off += here
		fo++
	}

	if fragmented {
		// fid cycles through 1..255; 0 stays reserved for unfragmented payloads
		s.nextFid++
		if s.nextFid == 0 {
			s.nextFid = 1
		}
	}
}

// HandleAck adopts the peer's window and sttl and drops every queued entry
// the cumulative acknum covers. A stale (lower) acknum still overwrites
// lastAckRcvd.
func (s *Session) HandleAck(acknum uint32, winRemote uint16, newSttl uint32) {
	s.lastAckRcvd = acknum
	s.remoteWindow = winRemote
	s.sttlMs = newSttl
	for len(s.txq) > 0 && s.txq[0].Pkt.SeqNum <= acknum {
		s.txq = s.txq[1:]
	}
}

// ReadyToSend walks the queue head-first and returns the entries eligible
// for (re)transmission: never sent, or unacknowledged past the RTO. REVIVE
// packets bypass the window gate; the first data packet that does not fit
// stops the walk so retransmissions keep their relative order.
func (s *Session) ReadyToSend(rto time.Duration) []*Outbound {
	var batch []*Outbound
	bytesLeft := s.remoteWindowLeft()
	now := time.Now()

	for _, ob := range s.txq {
		neverSent := ob.FirstSent.IsZero()
		timedOut := !neverSent && now.Sub(ob.LastSent) >= rto
		if !neverSent && !timedOut {
			continue // in flight, not timed out yet
		}

		if ob.Pkt.Flags&FlagRevive != 0 {
			batch = append(batch, ob)
			continue
		}
		if len(ob.Pkt.Payload) <= bytesLeft {
			batch = append(batch, ob)
			bytesLeft -= len(ob.Pkt.Payload)
		} else {
			break
		}
	}
	return batch
}

// MarkSent stamps the entry's last transmission time. The caller sets
// FirstSent on a true first send before calling this.
func (s *Session) MarkSent(ob *Outbound) {
	ob.LastSent = time.Now()
}
