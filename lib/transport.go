package lib

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Transport is the datagram capability the driver runs on. All network I/O
// flows through it; tests substitute an in-memory implementation.
type Transport interface {
	// Send transmits one datagram.
	Send(p []byte) error
	// RecvTimeout reads one datagram into buf, waiting at most d.
	// ErrRecvTimeout is returned when the deadline passes.
	RecvTimeout(buf []byte, d time.Duration) (int, error)
}

type udpTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport resolves host once and connects a UDP/IPv4 socket to it.
func NewUDPTransport(host string, port int) (Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", host)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", raddr)
	}
	return &udpTransport{conn: conn}, nil
}

func (t *udpTransport) Send(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *udpTransport) RecvTimeout(buf []byte, d time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, ErrRecvTimeout
		}
		return 0, err
	}
	return n, nil
}
