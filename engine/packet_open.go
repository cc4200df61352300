package engine

import (
	"encoding/json"
	"io"
	"time"

	"github.com/zishang520/engine.io-go-parser/packet"
)

// OpenDescriptor is the decoded body of the server's OPEN packet
// (spec.md §3): the session identifier, the transports the server will
// accept an upgrade to, and the two liveness durations. PingInterval
// and PingTimeout arrive on the wire as milliseconds and are converted
// to time.Duration here so nothing downstream has to know the wire
// unit.
type OpenDescriptor struct {
	Sid          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// wireOpenDescriptor mirrors OpenDescriptor's on-the-wire JSON shape,
// where the two durations are plain millisecond integers.
type wireOpenDescriptor struct {
	Sid          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

// decodeOpenDescriptor extracts an OpenDescriptor from an OPEN packet's
// data. It returns ErrNoOpenPacket if pkt is not an OPEN packet, and the
// read or JSON error if its data isn't valid JSON, which the call sites
// fold into ErrMalformedResponse.
func decodeOpenDescriptor(pkt *packet.Packet) (*OpenDescriptor, error) {
	if pkt == nil || pkt.Type != packet.OPEN {
		return nil, ErrNoOpenPacket
	}
	raw, err := io.ReadAll(pkt.Data)
	if err != nil {
		return nil, err
	}
	var wire wireOpenDescriptor
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return &OpenDescriptor{
		Sid:          wire.Sid,
		Upgrades:     wire.Upgrades,
		PingInterval: time.Duration(wire.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(wire.PingTimeout) * time.Millisecond,
	}, nil
}

// packetTypeName renders a packet type for log lines, the Go analogue
// of the teacher's packet_names lookup table.
func packetTypeName(t packet.PacketType) string {
	switch t {
	case packet.OPEN:
		return "OPEN"
	case packet.CLOSE:
		return "CLOSE"
	case packet.PING:
		return "PING"
	case packet.PONG:
		return "PONG"
	case packet.MESSAGE:
		return "MESSAGE"
	case packet.UPGRADE:
		return "UPGRADE"
	case packet.NOOP:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}
