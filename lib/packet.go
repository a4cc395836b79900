package lib

import (
	"encoding/binary"
	"fmt"
	"strings"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Flag constants (5 bits on the wire)
const (
	FlagConnect  uint8 = 1 << 4 // C
	FlagRevive   uint8 = 1 << 3 // R
	FlagAck      uint8 = 1 << 2 // ACK
	FlagAccept   uint8 = 1 << 1 // A (1 = accept; 0 = reject)
	FlagMorebits uint8 = 1 << 0 // MB
)

const (
	HeaderLength   = 32   // sid(16) + sttl|flags(4) + seq(4) + ack(4) + window(2) + fid(1) + fo(1)
	MaxPayloadSize = 1440 // payload bytes per packet

	sttlMask  uint32 = 0x07FFFFFF // sttl is 27 bits
	flagsMask uint8  = 0x1F       // flags are 5 bits
)

// SlowPacket represents one SLOW datagram
type SlowPacket struct {
	Sid     uuid.UUID   // session id assigned by central, echoed in every packet
	Sttl    uint32      // session TTL in ms, central-authoritative, 27 bits on the wire
	Flags   uint8       // control flags, 5 bits on the wire
	SeqNum  uint32      // sender's sequence number for this packet
	AckNum  uint32      // highest received peer seqnum, meaningful iff FlagAck set
	Window  uint16      // advertised receive window in bytes
	Fid     uint8       // fragment id, 0 when the payload fits one packet
	Fo      uint8       // fragment offset within a fid sequence, starting at 0
	Payload []byte      // opaque payload, at most MaxPayloadSize bytes
	chunk   *rp.Element // memory chunk backing Payload for inbound packets
}

// Marshal writes the packet into buffer and returns the frame length.
// Multi-byte fields are little-endian; sttl and flags share one 32-bit word.
func (p *SlowPacket) Marshal(buffer []byte) (int, error) {
	if len(p.Payload) > MaxPayloadSize {
		return 0, errors.Wrapf(ErrPayloadTooLarge, "payload is %d bytes", len(p.Payload))
	}
	frameLength := HeaderLength + len(p.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the frame (%d)", len(buffer), frameLength)
	}

	copy(buffer[0:16], p.Sid[:])
	binary.LittleEndian.PutUint32(buffer[16:20], (p.Sttl&sttlMask)<<5|uint32(p.Flags&flagsMask))
	binary.LittleEndian.PutUint32(buffer[20:24], p.SeqNum)
	binary.LittleEndian.PutUint32(buffer[24:28], p.AckNum)
	binary.LittleEndian.PutUint16(buffer[28:30], p.Window)
	buffer[30] = p.Fid
	buffer[31] = p.Fo
	copy(buffer[HeaderLength:], p.Payload)

	return frameLength, nil
}

// Unmarshal parses one datagram. Everything past the 32-byte header is the
// payload; the datagram length delimits it, there is no length field.
func (p *SlowPacket) Unmarshal(data []byte) error {
	if len(data) < HeaderLength {
		return errors.Wrapf(ErrShortPacket, "the length(%d) of data is too short to be unmarshalled", len(data))
	}

	copy(p.Sid[:], data[0:16])
	word := binary.LittleEndian.Uint32(data[16:20])
	p.Flags = uint8(word) & flagsMask
	p.Sttl = word >> 5
	p.SeqNum = binary.LittleEndian.Uint32(data[20:24])
	p.AckNum = binary.LittleEndian.Uint32(data[24:28])
	p.Window = binary.LittleEndian.Uint16(data[28:30])
	p.Fid = data[30]
	p.Fo = data[31]

	if len(data) > HeaderLength {
		if err := p.CopyToPayload(data[HeaderLength:]); err != nil {
			return fmt.Errorf("packet unmarshal: error copying packet payload - %s", err)
		}
	} else {
		p.Payload = nil
	}
	return nil
}

// CopyToPayload copies src into the packet, through the ring pool when one
// is configured so inbound payloads reuse pooled buffers.
func (p *SlowPacket) CopyToPayload(src []byte) error {
	if Pool == nil {
		p.Payload = append([]byte(nil), src...)
		return nil
	}
	p.GetChunk()
	if p.chunk == nil {
		return fmt.Errorf("p.CopyToPayload: Got an nil chunk")
	}
	err := p.chunk.Data.(*Payload).Copy(src)
	if err != nil {
		p.ReturnChunk()
		return fmt.Errorf("SlowPacket.CopyToPayload: %s", err)
	}
	p.Payload = p.chunk.Data.(*Payload).GetSlice()
	return nil
}

func (p *SlowPacket) GetChunk() {
	p.chunk = Pool.GetElement()
}

func (p *SlowPacket) ReturnChunk() {
	if p.chunk != nil {
		Pool.ReturnElement(p.chunk)
		p.chunk = nil
	}
}

func flagBit(flags, mask uint8) byte {
	if flags&mask != 0 {
		return '1'
	}
	return '0'
}

// String renders the packet in the diagnostic-trace form.
func (p *SlowPacket) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sid      : %s\n", p.Sid)
	fmt.Fprintf(&b, "flags    : 0x%02x  (C=%c,R=%c,ACK=%c,A=%c,MB=%c)\n",
		p.Flags,
		flagBit(p.Flags, FlagConnect), flagBit(p.Flags, FlagRevive),
		flagBit(p.Flags, FlagAck), flagBit(p.Flags, FlagAccept),
		flagBit(p.Flags, FlagMorebits))
	fmt.Fprintf(&b, "sttl(ms) : %d\n", p.Sttl)
	fmt.Fprintf(&b, "seqnum   : %d\n", p.SeqNum)
	fmt.Fprintf(&b, "acknum   : %d\n", p.AckNum)
	fmt.Fprintf(&b, "window   : %d\n", p.Window)
	fmt.Fprintf(&b, "fid      : %d\n", p.Fid)
	fmt.Fprintf(&b, "fo       : %d\n", p.Fo)
	fmt.Fprintf(&b, "data(len): %d B", len(p.Payload))
	if len(p.Payload) > 0 {
		const preview = 64
		b.WriteString("  -> \"")
		for i, c := range p.Payload {
			if i == preview {
				b.WriteString("...")
				break
			}
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("\"")
	}
	return b.String()
}
