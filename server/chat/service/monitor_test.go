package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"crm_server/server/chat/domain"
)

type fakeHealthGateway struct {
	mu           sync.Mutex
	state        domain.GatewayState
	stateErr     error
	connectCalls int
	connectErr   error
}

func (g *fakeHealthGateway) ConnectionState(context.Context) (domain.GatewayState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.stateErr
}

func (g *fakeHealthGateway) Connect(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	return g.connectErr
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	events   []string
	payloads []any
}

func (b *fakeBroadcaster) BroadcastAll(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	b.payloads = append(b.payloads, payload)
}

func (b *fakeBroadcaster) lastStatus(t *testing.T) domain.GatewayStatusPayload {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.payloads)
	payload, ok := b.payloads[len(b.payloads)-1].(domain.GatewayStatusPayload)
	require.True(t, ok)
	return payload
}

func TestMonitorBroadcastsDisconnectedAndReconnects(t *testing.T) {
	gateway := &fakeHealthGateway{state: domain.GatewayStateClosed}
	hub := &fakeBroadcaster{}
	m := NewHealthMonitor(gateway, hub, 0)

	m.tick(context.Background())

	require.Equal(t, []string{domain.EventGatewayStatus}, hub.events)
	status := hub.lastStatus(t)
	require.False(t, status.Connected)
	require.Equal(t, string(domain.GatewayStateClosed), status.State)
	require.Equal(t, 1, gateway.connectCalls)
}

func TestMonitorConnectedSkipsReconnect(t *testing.T) {
	gateway := &fakeHealthGateway{state: domain.GatewayStateOpen}
	hub := &fakeBroadcaster{}
	m := NewHealthMonitor(gateway, hub, 0)

	m.tick(context.Background())

	status := hub.lastStatus(t)
	require.True(t, status.Connected)
	require.Equal(t, string(domain.GatewayStateOpen), status.State)
	require.Equal(t, 0, gateway.connectCalls)
}

func TestMonitorCheckFailureBroadcastsErrorState(t *testing.T) {
	gateway := &fakeHealthGateway{stateErr: errors.New("gateway unreachable")}
	hub := &fakeBroadcaster{}
	m := NewHealthMonitor(gateway, hub, 0)

	m.tick(context.Background())

	status := hub.lastStatus(t)
	require.False(t, status.Connected)
	require.Equal(t, string(domain.GatewayStateError), status.State)
	require.Equal(t, "gateway unreachable", status.Error)
	require.Equal(t, 0, gateway.connectCalls)
}

func TestMonitorEveryTickBroadcasts(t *testing.T) {
	gateway := &fakeHealthGateway{state: domain.GatewayStateOpen}
	hub := &fakeBroadcaster{}
	m := NewHealthMonitor(gateway, hub, 0)

	m.tick(context.Background())
	m.tick(context.Background())
	m.tick(context.Background())

	require.Len(t, hub.events, 3)
}
