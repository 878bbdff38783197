package chatclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crm_server/server/chat/domain"
)

type fallbackServer struct {
	mu           sync.Mutex
	sendCalls    int
	persistCalls int
	failSend     bool
	failPersist  bool
	server       *httptest.Server
}

func newFallbackServer(t *testing.T) *fallbackServer {
	t.Helper()
	fs := &fallbackServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/whatsapp/send-text", func(w http.ResponseWriter, _ *http.Request) {
		fs.mu.Lock()
		fs.sendCalls++
		fail := fs.failSend
		fs.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"jobId":"job-1"}`))
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, _ *http.Request) {
		fs.mu.Lock()
		fs.persistCalls++
		fail := fs.failPersist
		fs.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"msg-1"}`))
	})
	fs.server = httptest.NewServer(mux)
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fallbackServer) counts() (int, int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sendCalls, fs.persistCalls
}

func newTestClientWith(fs *fallbackServer) *Client {
	return New(Options{
		ServerURL:     fs.server.URL,
		Token:         "test-token",
		RetryInterval: 10 * time.Millisecond,
		HTTPTimeout:   time.Second,
	})
}

// forceConnected flips the socket flag so drain tests can run without a real
// socket. The REST fallback itself never touches the connection.
func forceConnected(c *Client, connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

func TestSendMessageReturnsProvisional(t *testing.T) {
	fs := newFallbackServer(t)
	fs.failSend = true
	c := newTestClientWith(fs)

	provisional := c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})

	require.True(t, IsTempID(provisional.ID))
	require.Equal(t, domain.StatusSent, provisional.Status)
	require.Equal(t, domain.DirectionOutbound, provisional.Direction)
	require.Len(t, c.Reconciler().Pending(), 1)
}

func TestDisconnectedSendFallsBackToRESTOnce(t *testing.T) {
	fs := newFallbackServer(t)
	c := newTestClientWith(fs)

	var statusMu sync.Mutex
	var statuses []domain.MessageStatusPayload
	c.OnMessageStatus = func(p domain.MessageStatusPayload) {
		statusMu.Lock()
		statuses = append(statuses, p)
		statusMu.Unlock()
	}

	provisional := c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})

	require.Eventually(t, func() bool {
		sends, persists := fs.counts()
		return sends == 1 && persists == 1
	}, time.Second, 5*time.Millisecond)

	// Give the dispatch goroutine a beat; the counts must not move again.
	time.Sleep(50 * time.Millisecond)
	sends, persists := fs.counts()
	require.Equal(t, 1, sends)
	require.Equal(t, 1, persists)
	require.Equal(t, 0, c.PendingRetries())

	// The provisional is settled, not left waiting for a broadcast this
	// client may never see.
	require.Empty(t, c.Reconciler().Pending())
	statusMu.Lock()
	require.Len(t, statuses, 1)
	require.Equal(t, provisional.ID, statuses[0].MessageID)
	require.Equal(t, domain.StatusSent, statuses[0].Status)
	statusMu.Unlock()
}

func TestFailedFallbackParksInRetryQueue(t *testing.T) {
	fs := newFallbackServer(t)
	fs.failSend = true
	c := newTestClientWith(fs)

	var statusMu sync.Mutex
	var statuses []domain.MessageStatusPayload
	c.OnMessageStatus = func(p domain.MessageStatusPayload) {
		statusMu.Lock()
		statuses = append(statuses, p)
		statusMu.Unlock()
	}

	provisional := c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})

	require.Eventually(t, func() bool {
		return c.PendingRetries() == 1
	}, time.Second, 5*time.Millisecond)

	statusMu.Lock()
	require.Len(t, statuses, 1)
	require.Equal(t, provisional.ID, statuses[0].MessageID)
	require.Equal(t, domain.StatusFailed, statuses[0].Status)
	statusMu.Unlock()

	pending := c.Reconciler().Pending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.StatusFailed, pending[0].Status)
}

func TestRetryResumesWhereItFailed(t *testing.T) {
	fs := newFallbackServer(t)
	fs.failPersist = true
	c := newTestClientWith(fs)

	c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})

	require.Eventually(t, func() bool {
		return c.PendingRetries() == 1
	}, time.Second, 5*time.Millisecond)

	fs.mu.Lock()
	fs.failPersist = false
	fs.mu.Unlock()

	forceConnected(c, true)
	c.drainOne()

	require.Equal(t, 0, c.PendingRetries())
	require.Empty(t, c.Reconciler().Pending())
	sends, persists := fs.counts()
	// The gateway send already succeeded; the retry must only re-persist.
	require.Equal(t, 1, sends)
	require.Equal(t, 2, persists)
}

func TestRetryRespectsMaxAttempts(t *testing.T) {
	fs := newFallbackServer(t)
	fs.failSend = true
	c := New(Options{
		ServerURL:        fs.server.URL,
		Token:            "test-token",
		RetryInterval:    10 * time.Millisecond,
		MaxRetryAttempts: 2,
		HTTPTimeout:      time.Second,
	})

	var failedMu sync.Mutex
	var failedTemp string
	c.OnSendFailed = func(tempID string, _ SendParams, _ error) {
		failedMu.Lock()
		failedTemp = tempID
		failedMu.Unlock()
	}

	provisional := c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})

	require.Eventually(t, func() bool {
		return c.PendingRetries() == 1
	}, time.Second, 5*time.Millisecond)

	forceConnected(c, true)
	c.drainOne()
	require.Equal(t, 1, c.PendingRetries())
	c.drainOne()
	require.Equal(t, 0, c.PendingRetries())

	failedMu.Lock()
	require.Equal(t, provisional.ID, failedTemp)
	failedMu.Unlock()
}

func TestDrainSkipsWhenQueueEmpty(t *testing.T) {
	fs := newFallbackServer(t)
	c := newTestClientWith(fs)
	forceConnected(c, true)

	c.drainOne()

	sends, persists := fs.counts()
	require.Equal(t, 0, sends)
	require.Equal(t, 0, persists)
}

func TestDrainSkipsWhileDisconnected(t *testing.T) {
	fs := newFallbackServer(t)
	fs.failSend = true
	c := newTestClientWith(fs)

	c.SendMessage(SendParams{ChatID: "chat-1", To: "5511999990000", Content: "oi"})
	require.Eventually(t, func() bool {
		return c.PendingRetries() == 1
	}, time.Second, 5*time.Millisecond)

	sendsBefore, _ := fs.counts()
	c.drainOne()
	sendsAfter, _ := fs.counts()

	require.Equal(t, sendsBefore, sendsAfter)
	require.Equal(t, 1, c.PendingRetries())
}
