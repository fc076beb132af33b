package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/annel0/statesync/internal/entity"
)

const (
	// Connect запрос рукопожатия
	Connect = "CONNECT"
	// Full ответ при отсутствии свободных слотов
	Full = "FULL"
	// ErrorReply ответ на неизвестный запрос
	ErrorReply = "ERROR"

	// EntityUpdatePrefix заголовок кадра рассылки состояния
	EntityUpdatePrefix = "entity_update"

	// TopicEntityUpdate тема кадров состояния
	TopicEntityUpdate = EntityUpdatePrefix
	// TopicControl тема управляющих сообщений
	TopicControl = "control"
	// TopicInput тема ввода клиентов
	TopicInput = "input"
	// TopicHeartbeat тема heartbeat
	TopicHeartbeat = "heartbeat"
)

var (
	ErrMalformedFrame = errors.New("protocol: некорректный кадр")
	ErrMalformedReply = errors.New("protocol: некорректный ответ рукопожатия")
)

// Frame кадр рассылки состояния сущностей
type Frame struct {
	// PeerID отправитель кадра; 0 для кадров сервера
	PeerID   int64
	Tick     uint64
	Entities []entity.Entity
	// Dropped количество отброшенных некорректных записей
	Dropped int
}

// EncodeServerFrame кадр сервера: "entity_update|<tick>" и записи по строкам
func EncodeServerFrame(tick uint64, entities []entity.Entity) []byte {
	return encodeFrame(EntityUpdatePrefix+fieldSep+strconv.FormatUint(tick, 10), entities)
}

// EncodePeerFrame кадр пира: "entity_update|<peerId>|<tick>" и записи по строкам
func EncodePeerFrame(peerID int64, tick uint64, entities []entity.Entity) []byte {
	header := EntityUpdatePrefix + fieldSep + strconv.FormatInt(peerID, 10) + fieldSep + strconv.FormatUint(tick, 10)
	return encodeFrame(header, entities)
}

func encodeFrame(header string, entities []entity.Entity) []byte {
	var b strings.Builder
	b.WriteString(header)
	for _, e := range entities {
		b.WriteString("\n")
		b.WriteString(EncodeRecord(e))
	}
	return []byte(b.String())
}

// IsFrame сообщает, является ли сообщение кадром состояния
func IsFrame(data []byte) bool {
	return strings.HasPrefix(string(data), EntityUpdatePrefix+fieldSep)
}

// DecodeFrame разбирает кадр сервера или пира
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	header, body, _ := strings.Cut(string(data), "\n")
	parts := strings.Split(strings.TrimSpace(header), fieldSep)
	if len(parts) < 2 || len(parts) > 3 || parts[0] != EntityUpdatePrefix {
		return f, fmt.Errorf("%w: заголовок %q", ErrMalformedFrame, header)
	}

	tickField := parts[len(parts)-1]
	tick, err := strconv.ParseUint(tickField, 10, 64)
	if err != nil {
		return f, fmt.Errorf("%w: тик %q", ErrMalformedFrame, tickField)
	}
	f.Tick = tick

	if len(parts) == 3 {
		peerID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: peerId %q", ErrMalformedFrame, parts[1])
		}
		f.PeerID = peerID
	}

	f.Entities, f.Dropped = DecodeRecords(body)
	return f, nil
}

// HandshakeReply ответ сервера: "clientId|entityId|" и записи по строкам
type HandshakeReply struct {
	ClientID int64
	EntityID entity.ID
	Entities []entity.Entity
	Dropped  int
}

func EncodeHandshakeReply(r HandshakeReply) []byte {
	return []byte(strconv.FormatInt(r.ClientID, 10) + fieldSep +
		strconv.FormatInt(int64(r.EntityID), 10) + fieldSep +
		EncodeRecords(r.Entities))
}

// ErrFull возвращается DecodeHandshakeReply на ответ FULL
var ErrFull = errors.New("protocol: сервер заполнен")

func DecodeHandshakeReply(data []byte) (HandshakeReply, error) {
	var r HandshakeReply
	s := string(data)
	switch strings.TrimSpace(s) {
	case Full:
		return r, ErrFull
	case ErrorReply:
		return r, fmt.Errorf("%w: сервер ответил %s", ErrMalformedReply, ErrorReply)
	}

	parts := strings.SplitN(s, fieldSep, 3)
	if len(parts) < 3 {
		return r, fmt.Errorf("%w: %q", ErrMalformedReply, truncate(s))
	}
	clientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return r, fmt.Errorf("%w: clientId %q", ErrMalformedReply, parts[0])
	}
	entityID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return r, fmt.Errorf("%w: entityId %q", ErrMalformedReply, parts[1])
	}
	r.ClientID = clientID
	r.EntityID = entity.ID(entityID)
	r.Entities, r.Dropped = DecodeRecords(parts[2])
	return r, nil
}

// PeerHandshakeReply ответ точки встречи: "peerId|entityId|hostPeerId|roster|" и записи
type PeerHandshakeReply struct {
	PeerID     int64
	EntityID   entity.ID
	HostPeerID int64
	// Roster уже подключённые пиры
	Roster   map[int64]RosterEntry
	Entities []entity.Entity
	Dropped  int
}

func EncodePeerHandshakeReply(r PeerHandshakeReply) []byte {
	return []byte(strconv.FormatInt(r.PeerID, 10) + fieldSep +
		strconv.FormatInt(int64(r.EntityID), 10) + fieldSep +
		strconv.FormatInt(r.HostPeerID, 10) + fieldSep +
		EncodeRoster(r.Roster) + fieldSep +
		EncodeRecords(r.Entities))
}

func DecodePeerHandshakeReply(data []byte) (PeerHandshakeReply, error) {
	var r PeerHandshakeReply
	s := string(data)
	switch strings.TrimSpace(s) {
	case Full:
		return r, ErrFull
	case ErrorReply:
		return r, fmt.Errorf("%w: сервер ответил %s", ErrMalformedReply, ErrorReply)
	}

	parts := strings.SplitN(s, fieldSep, 5)
	if len(parts) < 5 {
		return r, fmt.Errorf("%w: %q", ErrMalformedReply, truncate(s))
	}
	var ids [3]int64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return r, fmt.Errorf("%w: поле %d %q", ErrMalformedReply, i, parts[i])
		}
		ids[i] = v
	}
	roster, err := DecodeRoster(parts[3])
	if err != nil {
		return r, err
	}
	r.PeerID, r.EntityID, r.HostPeerID = ids[0], entity.ID(ids[1]), ids[2]
	r.Roster = roster
	r.Entities, r.Dropped = DecodeRecords(parts[4])
	return r, nil
}

// RosterEntry уже подключённый пир: порт публикации и сущность игрока
type RosterEntry struct {
	Port     int
	EntityID entity.ID
}

// EncodeRoster "id=port:entity,..." по возрастанию id
func EncodeRoster(roster map[int64]RosterEntry) string {
	ids := make([]int64, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		e := roster[id]
		parts = append(parts, strconv.FormatInt(id, 10)+"="+strconv.Itoa(e.Port)+":"+
			strconv.FormatInt(int64(e.EntityID), 10))
	}
	return strings.Join(parts, ",")
}

func DecodeRoster(s string) (map[int64]RosterEntry, error) {
	roster := make(map[int64]RosterEntry)
	if strings.TrimSpace(s) == "" {
		return roster, nil
	}
	for _, item := range strings.Split(s, ",") {
		idStr, rest, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("%w: элемент списка пиров %q", ErrMalformedReply, item)
		}
		portStr, entityStr, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%w: нет сущности пира в %q", ErrMalformedReply, item)
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: id пира %q", ErrMalformedReply, idStr)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: порт пира %q", ErrMalformedReply, portStr)
		}
		entityID, err := strconv.ParseInt(entityStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: сущность пира %q", ErrMalformedReply, entityStr)
		}
		roster[id] = RosterEntry{Port: port, EntityID: entity.ID(entityID)}
	}
	return roster, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
