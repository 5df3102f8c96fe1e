package ws

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame of every duplex message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types.
const (
	MsgPing             = "ping"
	MsgEcho             = "echo"
	MsgRoomJoin         = "room:join"
	MsgRoomLeave        = "room:leave"
	MsgRoomMessage      = "room:message"
	MsgMatchmakingJoin  = "matchmaking:join"
	MsgMatchmakingLeave = "matchmaking:leave"
	MsgMatchJoin        = "match:join"
	MsgPlayerInput      = "player_input"
	MsgShoot            = "shoot"
	MsgCollectLoot      = "collect_loot"
	MsgSwitchWeapon     = "switch_weapon"
)

// Outbound message types.
const (
	MsgPong               = "pong"
	MsgAuthenticated      = "authenticated"
	MsgError              = "error"
	MsgForceDisconnect    = "force_disconnect"
	MsgRoomJoined         = "room:joined"
	MsgRoomLeft           = "room:left"
	MsgRoomMemberJoined   = "room:member_joined"
	MsgRoomMemberLeft     = "room:member_left"
	MsgRoomClosed         = "room_closed"
	MsgMatchmakingJoined  = "matchmaking:joined"
	MsgMatchmakingLeft    = "matchmaking:left"
	MsgMatchFound         = "matchmaking:match_found"
	MsgMatchmakingTimeout = "matchmaking:timeout"
	MsgMatchmakingError   = "matchmaking:error"
	MsgMatchJoined        = "match:joined"
	MsgMatchStarted       = "match:started"
	MsgGameState          = "game:state"
	MsgMatchEnded         = "match_ended"
	MsgLatencyUpdate      = "latency_update"
)

// encode serializes an envelope around an arbitrary payload.
func encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", msgType, err)
		}
		raw = data
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s envelope: %w", msgType, err)
	}
	return data, nil
}

// errorPayload is the body of every "error" message.
type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
