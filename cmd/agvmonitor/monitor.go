package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/agvwms/realtime"
)

// monitor owns the client for the lifetime of the process. It joins the configured rooms every
// time the client connects and logs every domain event.
type monitor struct {
	client realtime.Client
	rooms  []string
	logger *zap.Logger
}

func newMonitor(rooms []string, logger *zap.Logger) *monitor {
	return &monitor{
		rooms:  rooms,
		logger: logger.Named("monitor"),
	}
}

// run subscribes listeners to every domain event, connects and blocks until ctx is done.
func (m *monitor) run(ctx context.Context, listeners ...realtime.Listener) error {
	for _, l := range listeners {
		for _, name := range realtime.DomainEvents {
			m.client.AddEventListener(name, l)
		}
	}

	m.client.Connect()
	<-ctx.Done()

	m.logger.Info("shutting down")
	m.client.Disconnect()

	for _, l := range listeners {
		for _, name := range realtime.DomainEvents {
			m.client.RemoveEventListener(name, l)
		}
	}
	return nil
}

func (m *monitor) onStateChange(ch realtime.StateChange) {
	fields := []zap.Field{zap.Stringer("from", ch.Old), zap.Stringer("to", ch.New)}
	if ch.Err != nil {
		m.logger.Warn("connection state changed", append(fields, zap.Error(ch.Err))...)
	} else {
		m.logger.Info("connection state changed", fields...)
	}

	if ch.New != realtime.StateConnected {
		return
	}
	for _, room := range m.rooms {
		m.client.JoinRoom(room)
	}
	m.logger.Info("connected", zap.String("connection_id", m.client.ConnectionStatus().ConnectionID))
}

func (m *monitor) OnEvent(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.SystemStatus:
		m.logger.Info("system status",
			zap.Int("devices", len(e.Devices)),
			zap.Int("active_orders", len(e.ActiveOrders)),
			zap.Int("clients", e.TotalClients),
		)
	case realtime.RoomJoined:
		m.logger.Info("joined room", zap.String("room", e.Room))
	case realtime.RoomLeft:
		m.logger.Info("left room", zap.String("room", e.Room))
	case realtime.AGVStatusUpdate:
		m.logger.Info("agv status", zap.String("agv_id", e.AGVID), zap.Any("status", e.Status))
	case realtime.CommandAcknowledgment:
		if !e.Success {
			m.logger.Warn("command failed", zap.String("command_id", e.CommandID), zap.Any("result", e.Result))
			return
		}
		m.logger.Info("command acknowledged", zap.String("command_id", e.CommandID))
	default:
		m.logger.Debug("event", zap.String("name", string(ev.Name())))
	}
}
