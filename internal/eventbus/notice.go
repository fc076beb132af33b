package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы уведомлений жизненного цикла
const (
	KindClientConnected    = "client_connected"
	KindClientDisconnected = "client_disconnected"
	KindPeerJoined         = "peer_joined"
	KindPeerLeft           = "peer_left"
	KindRecordingSaved     = "recording_saved"
)

// NoticeVersion версия схемы Notice в Envelope.Version
const NoticeVersion = 1

// Notice полезная нагрузка уведомления
type Notice struct {
	Kind          string    `json:"kind" bson:"kind"`
	ParticipantID int64     `json:"participant_id" bson:"participant_id"`
	EntityID      int64     `json:"entity_id" bson:"entity_id"`
	RecordingID   string    `json:"recording_id,omitempty" bson:"recording_id,omitempty"`
	Reason        string    `json:"reason,omitempty" bson:"reason,omitempty"`
	At            time.Time `json:"at" bson:"at"`
}

// NewNoticeEnvelope упаковывает уведомление; EventType совпадает с Kind
func NewNoticeEnvelope(source string, n Notice) (*Envelope, error) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}
	priority := 3
	if n.Kind == KindClientDisconnected || n.Kind == KindPeerLeft {
		priority = 6
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: n.At,
		Source:    source,
		EventType: n.Kind,
		Version:   NoticeVersion,
		Priority:  priority,
		Payload:   payload,
	}, nil
}

// DecodeNotice извлекает уведомление из конверта
func DecodeNotice(ev *Envelope) (Notice, error) {
	var n Notice
	if ev.Version != NoticeVersion {
		return n, fmt.Errorf("неподдерживаемая версия уведомления %d", ev.Version)
	}
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		return n, fmt.Errorf("ошибка разбора уведомления %s: %w", ev.ID, err)
	}
	return n, nil
}
