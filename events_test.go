package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeMessage(t *testing.T) {
	m, err := NewEnvelopeMessage(CommandJoinRoom, roomCommand{Room: "agv-monitor"})
	require.NoError(t, err)

	assert.Equal(t, DataMessage, m.Type())
	assert.JSONEq(t, `{"event":"join_room","data":{"room":"agv-monitor"}}`, string(m.Data()))

	env, err := ParseEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, CommandJoinRoom, env.Event)
	assert.JSONEq(t, `{"room":"agv-monitor"}`, string(env.Data))
}

func TestEnvelopeMessageWithoutPayload(t *testing.T) {
	m, err := NewEnvelopeMessage(EventDisconnect, nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{"event":"disconnect"}`, string(m.Data()))
}

func TestEnvelopeMessageUnencodablePayload(t *testing.T) {
	_, err := NewEnvelopeMessage(CommandJoinRoom, make(chan int))
	assert.Error(t, err)
}

func TestParseEnvelopeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `event=system_status`},
		{name: "array", raw: `[1,2,3]`},
		{name: "missing event", raw: `{"data":{"room":"r1"}}`},
		{name: "empty event", raw: `{"event":"","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(NewDataMessage([]byte(tt.raw)))
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestDecodeSystemStatus(t *testing.T) {
	raw := rawJSON(t, map[string]any{
		"timestamp": 1718000000.5,
		"devices": []map[string]any{
			{"id": 1, "nome": "AGV-01", "codigo": "A1", "status": "online", "bateria": 87.5, "localizacao": "Doca 2"},
		},
		"active_orders": []map[string]any{
			{
				"id": 10, "status": "pending", "created_at": "2024-06-10 09:00:00",
				"dispositivo_id": 1, "usuario_nome": "Ana", "username": "ana",
				"dispositivo_nome": "AGV-01", "dispositivo_codigo": "A1",
				"itens": "parafuso,porca", "corredores": "A,B", "sub_corredores": "1,2",
				"posicoes_x": "3,4", "total_itens": 2,
			},
		},
		"total_clients": 4,
	})

	ev, err := DecodeEvent(EventSystemStatus, raw)
	require.NoError(t, err)

	status, ok := ev.(SystemStatus)
	require.True(t, ok)
	assert.Equal(t, EventSystemStatus, status.Name())
	assert.Equal(t, 4, status.TotalClients)
	require.Len(t, status.Devices, 1)
	assert.Equal(t, Device{ID: 1, Name: "AGV-01", Code: "A1", Status: "online", Battery: 87.5, Location: "Doca 2"}, status.Devices[0])
	require.Len(t, status.ActiveOrders, 1)
	assert.Equal(t, "ana", status.ActiveOrders[0].Username)
	assert.Equal(t, "A,B", status.ActiveOrders[0].Aisles)
	assert.Equal(t, 2, status.ActiveOrders[0].TotalItems)
}

func TestDecodeEvents(t *testing.T) {
	tests := []struct {
		name EventName
		raw  string
		want Event
	}{
		{name: EventRoomJoined, raw: `{"room":"agv-monitor"}`, want: RoomJoined{Room: "agv-monitor"}},
		{name: EventRoomLeft, raw: `{"room":"agv-monitor"}`, want: RoomLeft{Room: "agv-monitor"}},
		{
			name: EventAGVStatusUpdate,
			raw:  `{"agv_id":"agv-3","status":{"battery":50},"timestamp":"2024-06-10T09:00:00"}`,
			want: AGVStatusUpdate{AGVID: "agv-3", Status: map[string]any{"battery": float64(50)}, Timestamp: "2024-06-10T09:00:00"},
		},
		{
			name: EventCommandAcknowledgment,
			raw:  `{"command_id":"c-1","success":true,"result":{"ok":true},"timestamp":"t"}`,
			want: CommandAcknowledgment{CommandID: "c-1", Success: true, Result: map[string]any{"ok": true}, Timestamp: "t"},
		},
		{name: EventStatus, raw: `{"message":"Connected to AGV System"}`, want: StatusNotice{Message: "Connected to AGV System"}},
		{name: EventRoomJoined, raw: ``, want: RoomJoined{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			ev, err := DecodeEvent(tt.name, []byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
			assert.Equal(t, tt.name, ev.Name())
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := DecodeEvent("firmware_update", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent(CommandJoinRoom, []byte(`{"room":"r1"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent(EventSystemStatus, []byte(`{"devices":"none"}`))
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestDomainEventsAreDecodable(t *testing.T) {
	for _, name := range DomainEvents {
		ev, err := DecodeEvent(name, []byte(`{}`))
		require.NoError(t, err, name)
		assert.Equal(t, name, ev.Name())
	}
}

func TestMessageTypes(t *testing.T) {
	assert.True(t, DataMessage.IsData())
	assert.True(t, BinaryMessage.IsData())
	assert.False(t, PingMessage.IsData())
	assert.True(t, NewPingMessage(nil).Type().IsPing())
	assert.True(t, NewPongMessage(nil).Type().IsPong())

	assert.Equal(t, "Message{type=data,data=hi}", NewDataMessage([]byte("hi")).String())
	assert.Equal(t, "type(7)", MessageType(7).String())
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
