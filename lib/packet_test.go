package lib

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func testSid() uuid.UUID {
	return uuid.MustParse("0102030a-0b0c-0d0e-0f10-1112131415f6")
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  SlowPacket
	}{
		{name: "header only", pkt: SlowPacket{Flags: FlagConnect, Window: 65535}},
		{name: "small data", pkt: SlowPacket{
			Sid: testSid(), Sttl: 4321, Flags: FlagAck, SeqNum: 42, AckNum: 41,
			Window: 1024, Payload: []byte("Hello\n"),
		}},
		{name: "fragment", pkt: SlowPacket{
			Sid: testSid(), Sttl: 0x07FFFFFF, Flags: FlagAck | FlagMorebits,
			SeqNum: 4294967295, AckNum: 7, Window: 65535, Fid: 9, Fo: 2,
			Payload: bytes.Repeat([]byte{0xAB}, MaxPayloadSize),
		}},
		{name: "disconnect", pkt: SlowPacket{
			Sid: testSid(), Sttl: 60000, Flags: FlagConnect | FlagRevive | FlagAck,
			SeqNum: 103, AckNum: 102,
		}},
	}

	for _, tc := range testCases {
		buf := make([]byte, HeaderLength+MaxPayloadSize)
		n, err := tc.pkt.Marshal(buf)
		if err != nil {
			t.Fatalf("%s: Marshal failed: %v", tc.name, err)
		}
		if n != HeaderLength+len(tc.pkt.Payload) {
			t.Errorf("%s: frame length %d, want %d", tc.name, n, HeaderLength+len(tc.pkt.Payload))
		}

		var got SlowPacket
		if err := got.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("%s: Unmarshal failed: %v", tc.name, err)
		}
		if got.Sid != tc.pkt.Sid || got.Sttl != tc.pkt.Sttl || got.Flags != tc.pkt.Flags ||
			got.SeqNum != tc.pkt.SeqNum || got.AckNum != tc.pkt.AckNum ||
			got.Window != tc.pkt.Window || got.Fid != tc.pkt.Fid || got.Fo != tc.pkt.Fo {
			t.Errorf("%s: header did not survive the round trip:\ngot  %+v\nwant %+v", tc.name, got, tc.pkt)
		}
		if !bytes.Equal(got.Payload, tc.pkt.Payload) {
			t.Errorf("%s: payload did not survive the round trip", tc.name)
		}
	}
}

func TestMarshalSttlFlagsPacking(t *testing.T) {
	testCases := []struct {
		sttl  uint32
		flags uint8
	}{
		{sttl: 0, flags: 0},
		{sttl: 0, flags: 31},
		{sttl: 1, flags: FlagAck},
		{sttl: 800, flags: FlagConnect | FlagRevive | FlagAck},
		{sttl: 0x07FFFFFF, flags: FlagMorebits},
		{sttl: 0x07FFFFFF, flags: 31},
	}

	buf := make([]byte, HeaderLength)
	for _, tc := range testCases {
		p := SlowPacket{Sttl: tc.sttl, Flags: tc.flags}
		if _, err := p.Marshal(buf); err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		got := binary.LittleEndian.Uint32(buf[16:20])
		want := tc.sttl<<5 | uint32(tc.flags)
		if got != want {
			t.Errorf("sttl=%d flags=%#x: packed word %#x, want %#x", tc.sttl, tc.flags, got, want)
		}
	}
}

func TestMarshalPayloadTooLarge(t *testing.T) {
	p := SlowPacket{Payload: make([]byte, MaxPayloadSize+1)}
	buf := make([]byte, HeaderLength+MaxPayloadSize+1)
	if _, err := p.Marshal(buf); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestUnmarshalShortPacket(t *testing.T) {
	for _, n := range []int{0, 1, HeaderLength - 1} {
		var p SlowPacket
		if err := p.Unmarshal(make([]byte, n)); !errors.Is(err, ErrShortPacket) {
			t.Errorf("len=%d: got %v, want ErrShortPacket", n, err)
		}
	}
}

func TestUnmarshalTrailingBytesArePayload(t *testing.T) {
	src := SlowPacket{Sid: testSid(), Flags: FlagAck, SeqNum: 5, Payload: []byte("xyz")}
	buf := make([]byte, HeaderLength+3)
	n, err := src.Marshal(buf)
	if err != nil {
		t.Fatal(err)
	}

	var got SlowPacket
	if err := got.Unmarshal(buf[:n]); err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != "xyz" {
		t.Errorf("payload %q, want %q", got.Payload, "xyz")
	}

	var headerOnly SlowPacket
	if err := headerOnly.Unmarshal(buf[:HeaderLength]); err != nil {
		t.Fatal(err)
	}
	if len(headerOnly.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(headerOnly.Payload))
	}
}
