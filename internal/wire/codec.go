package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxFrame bounds a single framed message. Anything longer is treated as a
// protocol violation by the transport.
const MaxFrame = 1 << 20

// Marshal renders a message as its tagged JSON object, without the
// trailing newline (the transport owns framing).
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.messageType(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(m.messageType()) + 12)
	buf.WriteString(`{"type":"`)
	buf.WriteString(m.messageType())
	buf.WriteByte('"')
	if len(body) > 2 { // non-empty object: splice fields after the tag
		buf.WriteByte(',')
		buf.Write(body[1 : len(body)-1])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Unmarshal parses one frame back into its concrete message type. An
// unknown or missing type tag is an error; links treat it as a protocol
// violation and close.
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var m Message
	switch head.Type {
	case "JoinRing":
		m = &JoinRing{}
	case "SetNextRobot":
		m = &SetNextRobot{}
	case "SetPreviousRobot":
		m = &SetPreviousRobot{}
	case "Election":
		m = &Election{}
	case "NewLeader":
		m = &NewLeader{}
	case "LeaderBackup":
		m = &LeaderBackup{}
	case "PrepareOrder":
		m = &PrepareOrder{}
	case "OrderComplete":
		m = &OrderComplete{}
	case "OrderNotFinished":
		m = &OrderNotFinished{}
	case "Token":
		m = &Token{}
	case "TokenProbe":
		m = &TokenProbe{}
	case "TakeMyBackup":
		m = &TakeMyBackup{}
	case "RequestRobotLeaderConnection":
		m = &RequestRobotLeaderConnection{}
	case "PrepareNewOrder":
		m = &PrepareNewOrder{}
	case "OrderPrepared":
		m = &OrderPrepared{}
	case "OrderAborted":
		m = &OrderAborted{}
	case "AdoptOrders":
		m = &AdoptOrders{}
	default:
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", head.Type, err)
	}
	return deref(m), nil
}

// deref returns the message as a value so received messages can be
// switched on by concrete type, matching how they are sent.
func deref(m Message) Message {
	switch v := m.(type) {
	case *JoinRing:
		return *v
	case *SetNextRobot:
		return *v
	case *SetPreviousRobot:
		return *v
	case *Election:
		return *v
	case *NewLeader:
		return *v
	case *LeaderBackup:
		return *v
	case *PrepareOrder:
		return *v
	case *OrderComplete:
		return *v
	case *OrderNotFinished:
		return *v
	case *Token:
		return *v
	case *TokenProbe:
		return *v
	case *TakeMyBackup:
		return *v
	case *RequestRobotLeaderConnection:
		return *v
	case *PrepareNewOrder:
		return *v
	case *OrderPrepared:
		return *v
	case *OrderAborted:
		return *v
	case *AdoptOrders:
		return *v
	}
	return m
}
