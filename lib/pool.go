package lib

import (
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var (
	emptySlice []byte
	// Pool backs inbound packet payloads. Nil means payloads are allocated
	// per packet, which the tests rely on.
	Pool *rp.RingPool
)

func SetEmptySlice(length int) {
	emptySlice = make([]byte, length)
}

// Payload represents one pooled packet payload buffer
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload creates one pool element. The single parameter is the buffer
// length, MaxPayloadSize for SLOW packets.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewPayload: Invalid number of calling parameters. Should be only one: bufferLength")
		return nil
	}

	bufferLength, ok := params[0].(int)
	if !ok {
		log.Println("NewPayload: Invalid data type of bufferLength. Should be of type int")
		return nil
	}

	if len(emptySlice) == 0 { // initialize it
		SetEmptySlice(bufferLength)
	}

	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

// set the content of the payload
func (p *Payload) SetContent(s string) {
	p.payloadBytes = []byte(s)
	p.length = len(s)
}

// Reset resets the content of the payload
func (p *Payload) Reset() {
	copy(p.payloadBytes, emptySlice)
	p.length = 0
}

// PrintContent prints the content of the payload
func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("Payload Copy: Source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("Payload Copy: Source byte slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}
