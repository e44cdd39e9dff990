package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventName identifies an event on the wire.
type EventName string

const (
	// Transport-level events. They drive the connection state and are never dispatched to listeners.
	EventConnect    EventName = "connect"
	EventDisconnect EventName = "disconnect"

	// EventStatus is the server's diagnostic greeting. It is logged, not dispatched.
	EventStatus EventName = "status"

	EventSystemStatus          EventName = "system_status"
	EventRoomJoined            EventName = "room_joined"
	EventRoomLeft              EventName = "room_left"
	EventAGVStatusUpdate       EventName = "agv_status_update"
	EventCommandAcknowledgment EventName = "command_acknowledgment"

	// Outbound commands.
	CommandJoinRoom  EventName = "join_room"
	CommandLeaveRoom EventName = "leave_room"
)

// DomainEvents lists every event name the client dispatches to listeners.
var DomainEvents = []EventName{
	EventSystemStatus,
	EventRoomJoined,
	EventRoomLeft,
	EventAGVStatusUpdate,
	EventCommandAcknowledgment,
}

// Event is a decoded server push. The concrete type is determined by Name.
type Event interface {
	Name() EventName
}

type (
	// Device is one AGV row of a system_status snapshot.
	Device struct {
		ID       int     `json:"id"`
		Name     string  `json:"nome"`
		Code     string  `json:"codigo"`
		Status   string  `json:"status"`
		Battery  float64 `json:"bateria"`
		Location string  `json:"localizacao"`
	}

	// Order is an active (pending, in progress or collecting) order of a system_status snapshot.
	// Item columns are comma separated, one entry per order item.
	Order struct {
		ID         int    `json:"id"`
		Status     string `json:"status"`
		CreatedAt  string `json:"created_at"`
		DeviceID   int    `json:"dispositivo_id"`
		UserName   string `json:"usuario_nome"`
		Username   string `json:"username"`
		DeviceName string `json:"dispositivo_nome"`
		DeviceCode string `json:"dispositivo_codigo"`
		Items      string `json:"itens"`
		Aisles     string `json:"corredores"`
		SubAisles  string `json:"sub_corredores"`
		PositionsX string `json:"posicoes_x"`
		TotalItems int    `json:"total_itens"`
	}

	SystemStatus struct {
		Timestamp    float64  `json:"timestamp"`
		Devices      []Device `json:"devices"`
		ActiveOrders []Order  `json:"active_orders"`
		TotalClients int      `json:"total_clients"`
	}

	RoomJoined struct {
		Room string `json:"room"`
	}

	RoomLeft struct {
		Room string `json:"room"`
	}

	AGVStatusUpdate struct {
		AGVID     string         `json:"agv_id"`
		Status    map[string]any `json:"status"`
		Timestamp string         `json:"timestamp"`
	}

	CommandAcknowledgment struct {
		CommandID string         `json:"command_id"`
		Success   bool           `json:"success"`
		Result    map[string]any `json:"result"`
		Timestamp string         `json:"timestamp"`
	}

	StatusNotice struct {
		Message string `json:"message"`
	}

	// connectNotice is the optional payload of a server "connect" envelope.
	connectNotice struct {
		SID string `json:"sid"`
	}

	// roomCommand is the payload of join_room and leave_room.
	roomCommand struct {
		Room string `json:"room"`
	}
)

func (SystemStatus) Name() EventName          { return EventSystemStatus }
func (RoomJoined) Name() EventName            { return EventRoomJoined }
func (RoomLeft) Name() EventName              { return EventRoomLeft }
func (AGVStatusUpdate) Name() EventName       { return EventAGVStatusUpdate }
func (CommandAcknowledgment) Name() EventName { return EventCommandAcknowledgment }
func (StatusNotice) Name() EventName          { return EventStatus }

// DecodeEvent turns a raw payload into its typed variant. Names outside DomainEvents and "status"
// yield ErrUnknownEvent.
func DecodeEvent(name EventName, raw json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch name {
	case EventSystemStatus:
		ev, err = decodeAs[SystemStatus](raw)
	case EventRoomJoined:
		ev, err = decodeAs[RoomJoined](raw)
	case EventRoomLeft:
		ev, err = decodeAs[RoomLeft](raw)
	case EventAGVStatusUpdate:
		ev, err = decodeAs[AGVStatusUpdate](raw)
	case EventCommandAcknowledgment:
		ev, err = decodeAs[CommandAcknowledgment](raw)
	case EventStatus:
		ev, err = decodeAs[StatusNotice](raw)
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", name)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return ev, nil
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := unmarshalPayload(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	return nil
}
