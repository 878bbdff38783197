package service

import (
	"context"
	"time"

	"crm_server/server/chat/domain"
	commonlog "crm_server/server/common/log"
)

type gatewayHealth interface {
	ConnectionState(ctx context.Context) (domain.GatewayState, error)
	Connect(ctx context.Context) error
}

type statusBroadcaster interface {
	BroadcastAll(event string, payload any)
}

// HealthMonitor polls the gateway link on a fixed cadence, tells every client
// where it stands, and nudges the gateway back up when the link is down. The
// interval is the only throttle; the loop runs for the process lifetime.
type HealthMonitor struct {
	gateway  gatewayHealth
	hub      statusBroadcaster
	interval time.Duration
}

func NewHealthMonitor(gateway gatewayHealth, hub statusBroadcaster, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{gateway: gateway, hub: hub, interval: interval}
}

func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

func (m *HealthMonitor) tick(ctx context.Context) {
	state, err := m.gateway.ConnectionState(ctx)
	now := time.Now().UTC()
	if err != nil {
		commonlog.Errorf("event=health_monitor action=check status=failed error=%v", err)
		m.hub.BroadcastAll(domain.EventGatewayStatus, domain.GatewayStatusPayload{
			Connected: false,
			State:     string(domain.GatewayStateError),
			Timestamp: now,
			Error:     err.Error(),
		})
		return
	}

	connected := state == domain.GatewayStateOpen
	m.hub.BroadcastAll(domain.EventGatewayStatus, domain.GatewayStatusPayload{
		Connected: connected,
		State:     string(state),
		Timestamp: now,
	})

	if !connected {
		commonlog.Warnf("event=health_monitor action=check status=disconnected state=%s", state)
		if err := m.gateway.Connect(ctx); err != nil {
			commonlog.Errorf("event=health_monitor action=reconnect status=failed error=%v", err)
		} else {
			commonlog.Infof("event=health_monitor action=reconnect status=requested")
		}
	}
}
