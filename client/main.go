package main

import (
	"flag"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/slowproto/peripheral/config"
	"github.com/slowproto/peripheral/lib"
)

var (
	fmsg, fstate, fsave string
	rtoMs, recvToMs     int
	configPath          string
	serverAddrStr       string
)

func init() {
	// Define CLI flags, long and short spellings bound to the same variable
	flag.StringVar(&fmsg, "msg", "", "file holding the payload to deliver")
	flag.StringVar(&fmsg, "m", "", "file holding the payload to deliver (shorthand)")
	flag.StringVar(&fstate, "revive", "", "revive the session persisted in this file")
	flag.StringVar(&fstate, "r", "", "revive the session persisted in this file (shorthand)")
	flag.StringVar(&fsave, "save", "", "persist session state to this file after disconnect")
	flag.StringVar(&fsave, "s", "", "persist session state to this file after disconnect (shorthand)")
	flag.IntVar(&rtoMs, "rto", 800, "retransmission timeout in ms")
	flag.IntVar(&rtoMs, "t", 800, "retransmission timeout in ms (shorthand)")
	flag.IntVar(&recvToMs, "recvto", 1500, "handshake receive timeout in ms")
	flag.IntVar(&recvToMs, "T", 1500, "handshake receive timeout in ms (shorthand)")
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file")
	flag.StringVar(&serverAddrStr, "server", "", "central address (host:port), overrides the configuration file")
	flag.Parse()
}

func main() {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	// Flags left at their defaults fall back to the configuration file
	seen := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	if !seen["rto"] && !seen["t"] {
		rtoMs = cfg.RtoMs
	}
	if !seen["recvto"] && !seen["T"] {
		recvToMs = cfg.RecvTimeoutMs
	}

	host, port := cfg.ServerHost, cfg.ServerPort
	if serverAddrStr != "" {
		hostStr, portStr, err := net.SplitHostPort(serverAddrStr)
		if err != nil {
			log.Fatalln("Bad server address:", err)
		}
		port, err = strconv.Atoi(portStr)
		if err != nil {
			log.Fatalln("Bad server port:", err)
		}
		host = hostStr
	}

	revive := fstate != ""
	var payload []byte
	if fmsg != "" {
		payload, err = os.ReadFile(fmsg)
		if err != nil {
			log.Fatalln("Error opening message file:", err)
		}
	} else if !revive {
		payload = []byte("Hello\n")
	}

	// Preparing Ring Buffer Pool for inbound payloads
	lib.Pool = rp.NewRingPool("payloadPool", cfg.PayloadPoolSize, lib.NewPayload, lib.MaxPayloadSize)

	tr, err := lib.NewUDPTransport(host, port)
	if err != nil {
		log.Fatalln("Error creating UDP transport:", err)
	}

	sess := lib.NewSession(uint16(cfg.LocalWindow))
	per := lib.NewPeripheral(tr, sess, time.Duration(rtoMs)*time.Millisecond, fsave, func(data []byte) {
		log.Printf("### PAYLOAD (%dB) ###\n%s", len(data), data)
	})

	if revive {
		st, err := lib.LoadSessionState(fstate)
		if err != nil {
			log.Fatalln("Revive state error:", err)
		}
		err = per.Revive(st, payload)
		if err != nil {
			log.Fatalln("Session failed:", err)
		}
	} else {
		if err := per.Connect(payload, time.Duration(recvToMs)*time.Millisecond); err != nil {
			log.Fatalln("Session failed:", err)
		}
	}
}
