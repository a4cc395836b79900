package lib

import (
	"log"
	"time"

	"github.com/pkg/errors"
)

// recvPollInterval bounds the steady-state wait on datagram readability so
// the send phase keeps running while no traffic arrives.
const recvPollInterval = 100 * time.Millisecond

const recvBufferSize = 2048

// Peripheral drives one SLOW session end to end: handshake, windowed data
// transmission with retransmission, reassembly of inbound payloads,
// disconnect, and optional state persistence.
type Peripheral struct {
	tr       Transport
	sess     *Session
	rto      time.Duration
	savePath string
	deliver  func([]byte) // sink for payloads reassembled from central
}

func NewPeripheral(tr Transport, sess *Session, rto time.Duration, savePath string, deliver func([]byte)) *Peripheral {
	if deliver == nil {
		deliver = func([]byte) {}
	}
	return &Peripheral{
		tr:       tr,
		sess:     sess,
		rto:      rto,
		savePath: savePath,
		deliver:  deliver,
	}
}

// Connect performs the CONNECT/SETUP handshake, queues payload and runs the
// session until the disconnect ACK is observed.
func (p *Peripheral) Connect(payload []byte, recvTimeout time.Duration) error {
	conn := SlowPacket{
		Flags:  FlagConnect,
		Window: p.sess.LocalWindowLeft(),
	}
	if err := p.transmit(&conn, "CONNECT"); err != nil {
		return err
	}

	buf := make([]byte, recvBufferSize)
	n, err := p.tr.RecvTimeout(buf, recvTimeout)
	if err != nil {
		return errors.Wrap(err, "waiting for SETUP")
	}
	var setup SlowPacket
	if err := setup.Unmarshal(buf[:n]); err != nil {
		return errors.Wrap(err, "decoding SETUP")
	}
	log.Printf("<< SETUP seq=%d (%dB)\n%s", setup.SeqNum, n, setup.String())
	if setup.Flags&FlagAccept == 0 {
		setup.ReturnChunk()
		return ErrRejected
	}

	p.sess.Establish(&setup)
	p.sess.NoteRxSeq(setup.SeqNum)
	setup.ReturnChunk()
	if len(payload) > 0 {
		p.sess.QueueData(payload, false)
	}

	return p.drive()
}

// Revive restores a persisted session without a new handshake. Establish is
// fed a locally built placeholder so the sequence counter resumes at the
// persisted nextSeq; the first outbound packet carries REVIVE and bypasses
// the remote-window gate.
func (p *Peripheral) Revive(st *SessionState, payload []byte) error {
	placeholder := SlowPacket{
		Sid:    st.Sid,
		Sttl:   st.Sttl,
		SeqNum: st.NextSeq - 1,
		AckNum: st.LastAck,
		Window: 0,
	}
	p.sess.Establish(&placeholder)
	p.sess.NoteRxSeq(st.LastAck)
	p.sess.QueueData(payload, true)

	return p.drive()
}

// drive is the single-threaded cooperative loop: send what the scheduler
// admits, initiate disconnect once the queue drains, then poll for inbound
// datagrams for at most recvPollInterval.
func (p *Peripheral) drive() error {
	reasm := NewReassembler()
	waitingDcAck := false
	var dcSeq uint32
	buf := make([]byte, recvBufferSize)

	for {
		for _, ob := range p.sess.ReadyToSend(p.rto) {
			tag := "DATA"
			if !ob.FirstSent.IsZero() {
				tag = "RETX"
			} else if ob.Pkt.Flags&FlagRevive != 0 {
				tag = "REVIVE"
			}
			if err := p.transmit(&ob.Pkt, tag); err != nil {
				return err
			}
			if ob.FirstSent.IsZero() {
				ob.FirstSent = time.Now()
			}
			p.sess.MarkSent(ob)
		}

		if !waitingDcAck && p.sess.Empty() {
			d := SlowPacket{
				Sid:    p.sess.Sid(),
				Sttl:   p.sess.Sttl(),
				Flags:  FlagConnect | FlagRevive | FlagAck,
				SeqNum: p.sess.TakeSeq(),
				AckNum: p.sess.LastRxSeq(),
				Window: 0,
			}
			if err := p.transmit(&d, "DISCONNECT"); err != nil {
				return err
			}
			dcSeq = d.SeqNum
			waitingDcAck = true
		}

		n, err := p.tr.RecvTimeout(buf, recvPollInterval)
		if err != nil {
			if errors.Is(err, ErrRecvTimeout) {
				continue // retransmission is timer-driven, keep looping
			}
			return errors.Wrap(err, "receiving datagram")
		}

		var pk SlowPacket
		if err := pk.Unmarshal(buf[:n]); err != nil {
			log.Println("dropping malformed datagram:", err)
			continue
		}
		log.Printf("<< RX seq=%d (%dB)\n%s", pk.SeqNum, n, pk.String())

		p.sess.NoteRxSeq(pk.SeqNum)
		if pk.Flags&FlagAck != 0 {
			p.sess.HandleAck(pk.AckNum, pk.Window, pk.Sttl)
		}

		// The peer confirms the disconnect by acknowledging its seqnum.
		// Some centrals echo that seqnum as their own instead, so both
		// forms are accepted.
		if waitingDcAck && pk.Flags&FlagAck != 0 && (pk.AckNum == dcSeq || pk.SeqNum == dcSeq) {
			pk.ReturnChunk()
			if p.savePath != "" {
				st := &SessionState{
					Sid:     p.sess.Sid(),
					Sttl:    p.sess.Sttl(),
					NextSeq: p.sess.PeekNextSeq(),
					LastAck: p.sess.LastRxSeq(),
				}
				if err := st.Save(p.savePath); err != nil {
					return err
				}
				log.Printf("session state saved to %s", p.savePath)
			}
			return nil
		}

		if len(pk.Payload) > 0 {
			p.sess.ConsumeLocalWindow(len(pk.Payload))
			if all := reasm.Feed(&pk); all != nil {
				p.deliver(all)
				p.sess.ReleaseLocalWindow(len(all))
			}

			ack := SlowPacket{
				Sid:    p.sess.Sid(),
				Sttl:   p.sess.Sttl(),
				Flags:  FlagAck,
				SeqNum: pk.SeqNum,
				AckNum: pk.SeqNum,
				Window: p.sess.LocalWindowLeft(),
			}
			if err := p.transmit(&ack, "ACK-PURE"); err != nil {
				pk.ReturnChunk()
				return err
			}
		}
		pk.ReturnChunk()
	}
}

func (p *Peripheral) transmit(pkt *SlowPacket, tag string) error {
	raw := make([]byte, HeaderLength+len(pkt.Payload))
	n, err := pkt.Marshal(raw)
	if err != nil {
		return errors.Wrapf(err, "marshalling %s", tag)
	}
	if err := p.tr.Send(raw[:n]); err != nil {
		return errors.Wrapf(err, "sending %s", tag)
	}
	log.Printf(">> %s seq=%d (%dB)\n%s", tag, pkt.SeqNum, n, pkt.String())
	return nil
}
