package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/statesync/internal/entity"
)

// Типы управляющих сообщений
const (
	MsgHeartbeat     = "heartbeat"
	MsgKeyPress      = "keypress"
	MsgDisconnect    = "disconnect"
	MsgNewConnection = "new_connection"
	MsgNewPeer       = "new_peer"
	MsgPeerLeft      = "peer_left"
)

// ControlMessage JSON-сообщение управляющих каналов. Заполнены только поля,
// относящиеся к Type.
type ControlMessage struct {
	Type        string `json:"type"`
	ClientID    int64  `json:"clientId,omitempty"`
	ButtonPress string `json:"buttonPress,omitempty"`
	EntityID    int64  `json:"entityID,omitempty"`
	Entity      string `json:"entity,omitempty"`
	PeerID      int64  `json:"peerId,omitempty"`
	Port        int    `json:"port,omitempty"`
	HostPeerID  int64  `json:"hostPeerId,omitempty"`
}

func Heartbeat(clientID int64) ControlMessage {
	return ControlMessage{Type: MsgHeartbeat, ClientID: clientID}
}

func KeyPress(clientID int64, button string) ControlMessage {
	return ControlMessage{Type: MsgKeyPress, ClientID: clientID, ButtonPress: button}
}

func Disconnect(id entity.ID) ControlMessage {
	return ControlMessage{Type: MsgDisconnect, EntityID: int64(id)}
}

func NewConnection(e entity.Entity) ControlMessage {
	return ControlMessage{Type: MsgNewConnection, Entity: EncodeRecord(e)}
}

func NewPeer(peerID int64, id entity.ID, port int) ControlMessage {
	return ControlMessage{Type: MsgNewPeer, PeerID: peerID, EntityID: int64(id), Port: port}
}

func PeerLeft(peerID int64, id entity.ID, hostPeerID int64) ControlMessage {
	return ControlMessage{Type: MsgPeerLeft, PeerID: peerID, EntityID: int64(id), HostPeerID: hostPeerID}
}

// Marshal кодирует сообщение в JSON
func (m ControlMessage) Marshal() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// структура состоит только из строк и чисел
		panic(fmt.Sprintf("protocol: json.Marshal(ControlMessage): %v", err))
	}
	return data
}

// DecodeControl разбирает управляющее сообщение
func DecodeControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("ошибка разбора управляющего сообщения: %w", err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("управляющее сообщение без поля type")
	}
	return m, nil
}

// EntityRecord разбирает запись из new_connection
func (m ControlMessage) EntityRecord() (entity.Entity, error) {
	return DecodeRecord(m.Entity)
}
