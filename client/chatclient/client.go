// Package chatclient is the Go client for the chat socket and its REST
// fallback. Sends are optimistic: the caller gets a provisional message
// immediately and the client reconciles it against the server copy later.
package chatclient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"crm_server/server/chat/domain"
)

type Options struct {
	// ServerURL is the http(s) base URL of the chat server.
	ServerURL string
	Token     string

	// RetryInterval paces the failed-send drain. Zero means 30s.
	RetryInterval time.Duration
	// MaxRetryAttempts bounds retries per failed send. Zero means retry until
	// it goes through.
	MaxRetryAttempts int
	HTTPTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 10 * time.Second
	}
	return o
}

// SendParams describes one outbound message. To is the contact's address for
// the REST fallback; the socket path resolves it server-side.
type SendParams struct {
	ChatID    string
	To        string
	Content   string
	MediaURL  string
	MediaType string
}

// pendingSend is a failed fallback send waiting in the retry queue. The two
// done flags keep retries from repeating a step that already succeeded, so a
// message is sent to the gateway at most once and persisted at most once.
type pendingSend struct {
	tempID      string
	params      SendParams
	sentDone    bool
	persistDone bool
	attempts    int
}

type Client struct {
	opts Options
	http *resty.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   []pendingSend
	inFlight  bool
	closed    bool

	stopRetry context.CancelFunc
	wg        sync.WaitGroup

	reconciler *Reconciler

	// Callbacks fire from the read loop goroutine. Set them before Connect.
	OnNewMessage    func(domain.Message)
	OnMessageStatus func(domain.MessageStatusPayload)
	OnTypingStatus  func(domain.TypingStatusPayload)
	OnGatewayStatus func(domain.GatewayStatusPayload)
	OnError         func(domain.ErrorPayload)
	OnDisconnect    func(error)
	// OnSendFailed fires when a fallback send exhausts its retry budget.
	OnSendFailed func(tempID string, params SendParams, err error)
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.ServerURL, "/")).
		SetTimeout(opts.HTTPTimeout).
		SetAuthToken(opts.Token)
	return &Client{
		opts:       opts,
		http:       httpClient,
		reconciler: NewReconciler(),
	}
}

func (c *Client) Reconciler() *Reconciler { return c.reconciler }

// Connect dials the socket and starts the read loop and the retry drain.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial chat socket: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("client is closed")
	}
	c.conn = conn
	c.connected = true
	startDrain := c.stopRetry == nil
	var retryCtx context.Context
	if startDrain {
		retryCtx, c.stopRetry = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)
	if startDrain {
		c.wg.Add(1)
		go c.retryLoop(retryCtx)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	stop := c.stopRetry
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) JoinChat(chatID string) error {
	return c.writeEvent(domain.EventJoinChat, domain.ChatRoomPayload{ChatID: chatID})
}

func (c *Client) LeaveChat(chatID string) error {
	return c.writeEvent(domain.EventLeaveChat, domain.ChatRoomPayload{ChatID: chatID})
}

func (c *Client) SendTyping(chatID string, isTyping bool) error {
	return c.writeEvent(domain.EventTyping, domain.TypingPayload{ChatID: chatID, IsTyping: isTyping})
}

// SendMessage returns a provisional message immediately and dispatches the
// real send in the background: through the socket when connected, through the
// REST fallback otherwise. A fallback failure parks the send in the retry
// queue and flips the provisional to FAILED.
func (c *Client) SendMessage(params SendParams) domain.Message {
	provisional := domain.Message{
		ID:        tempMessageID(),
		ChatID:    params.ChatID,
		Content:   params.Content,
		MediaURL:  params.MediaURL,
		MediaType: params.MediaType,
		Direction: domain.DirectionOutbound,
		Status:    domain.StatusSent,
		CreatedAt: time.Now().UTC(),
	}
	c.reconciler.Track(provisional)

	go c.dispatch(provisional.ID, params)
	return provisional
}

func (c *Client) dispatch(tempID string, params SendParams) {
	if c.Connected() {
		err := c.writeEvent(domain.EventSendMessage, domain.SendMessagePayload{
			ChatID:    params.ChatID,
			Message:   params.Content,
			MediaURL:  params.MediaURL,
			MediaType: params.MediaType,
		})
		if err == nil {
			return
		}
	}

	send := pendingSend{tempID: tempID, params: params}
	if err := c.sendViaREST(&send); err != nil {
		c.markProvisionalFailed(tempID)
		c.enqueueRetry(send)
		return
	}
	c.settleProvisional(tempID)
}

// settleProvisional closes out a provisional whose fallback send fully landed.
// The socket path keeps its provisional until Resolve sees the broadcast.
func (c *Client) settleProvisional(tempID string) {
	if message, ok := c.reconciler.Discard(tempID); ok && c.OnMessageStatus != nil {
		c.OnMessageStatus(domain.MessageStatusPayload{MessageID: message.ID, Status: domain.StatusSent})
	}
}

// sendViaREST performs the fallback: one gateway send plus one persist. The
// done flags on the pendingSend record which half went through.
func (c *Client) sendViaREST(send *pendingSend) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HTTPTimeout)
	defer cancel()

	if !send.sentDone {
		if err := c.gatewaySend(ctx, send.params); err != nil {
			return err
		}
		send.sentDone = true
	}
	if !send.persistDone {
		if err := c.persistMessage(ctx, send.params); err != nil {
			return err
		}
		send.persistDone = true
	}
	return nil
}

func (c *Client) gatewaySend(ctx context.Context, params SendParams) error {
	var resp *resty.Response
	var err error
	if params.MediaURL != "" {
		resp, err = c.http.R().SetContext(ctx).
			SetBody(map[string]string{
				"to":        params.To,
				"url":       params.MediaURL,
				"caption":   params.Content,
				"mediaType": params.MediaType,
			}).
			Post("/api/v1/whatsapp/send-media")
	} else {
		resp, err = c.http.R().SetContext(ctx).
			SetBody(map[string]string{"to": params.To, "message": params.Content}).
			Post("/api/v1/whatsapp/send-text")
	}
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send: status %d", resp.StatusCode())
	}
	return nil
}

func (c *Client) persistMessage(ctx context.Context, params SendParams) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{
			"chatId":    params.ChatID,
			"content":   params.Content,
			"mediaUrl":  params.MediaURL,
			"mediaType": params.MediaType,
		}).
		Post("/api/v1/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("persist message: status %d", resp.StatusCode())
	}
	return nil
}

func (c *Client) enqueueRetry(send pendingSend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, send)
}

// PendingRetries reports how many failed sends are waiting for the drain.
func (c *Client) PendingRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) retryLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOne()
		}
	}
}

// drainOne retries the head of the queue. One send per tick, never
// concurrently, and only while the socket is up: a live connection is the
// signal that the server is reachable again.
func (c *Client) drainOne() {
	c.mu.Lock()
	if len(c.pending) == 0 || c.inFlight || !c.connected {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	send := c.pending[0]
	c.mu.Unlock()

	err := c.sendViaREST(&send)

	c.mu.Lock()
	c.inFlight = false
	if len(c.pending) == 0 || c.pending[0].tempID != send.tempID {
		c.mu.Unlock()
		return
	}

	if err == nil {
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.settleProvisional(send.tempID)
		return
	}

	send.attempts++
	if c.opts.MaxRetryAttempts > 0 && send.attempts >= c.opts.MaxRetryAttempts {
		c.pending = c.pending[1:]
		c.mu.Unlock()
		if c.OnSendFailed != nil {
			c.OnSendFailed(send.tempID, send.params, err)
		}
		return
	}
	c.pending[0] = send
	c.mu.Unlock()
}

func (c *Client) markProvisionalFailed(tempID string) {
	message, ok := c.reconciler.MarkFailed(tempID)
	if ok && c.OnMessageStatus != nil {
		c.OnMessageStatus(domain.MessageStatusPayload{MessageID: message.ID, Status: domain.StatusFailed})
	}
}

func (c *Client) writeEvent(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("socket is not connected")
	}
	return conn.WriteJSON(domain.Envelope{Event: event, Payload: raw})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.connected = false
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed && c.OnDisconnect != nil {
				c.OnDisconnect(err)
			}
			return
		}
		c.handleEvent(env)
	}
}

func (c *Client) handleEvent(env domain.Envelope) {
	switch env.Event {
	case domain.EventNewMessage:
		var message domain.Message
		if json.Unmarshal(env.Payload, &message) != nil {
			return
		}
		if message.Direction == domain.DirectionOutbound {
			c.reconciler.Resolve(message)
		}
		if c.OnNewMessage != nil {
			c.OnNewMessage(message)
		}
	case domain.EventMessageStatus:
		var payload domain.MessageStatusPayload
		if json.Unmarshal(env.Payload, &payload) != nil {
			return
		}
		if c.OnMessageStatus != nil {
			c.OnMessageStatus(payload)
		}
	case domain.EventTypingStatus:
		var payload domain.TypingStatusPayload
		if json.Unmarshal(env.Payload, &payload) != nil {
			return
		}
		if c.OnTypingStatus != nil {
			c.OnTypingStatus(payload)
		}
	case domain.EventGatewayStatus:
		var payload domain.GatewayStatusPayload
		if json.Unmarshal(env.Payload, &payload) != nil {
			return
		}
		if c.OnGatewayStatus != nil {
			c.OnGatewayStatus(payload)
		}
	case domain.EventError:
		var payload domain.ErrorPayload
		if json.Unmarshal(env.Payload, &payload) != nil {
			return
		}
		if c.OnError != nil {
			c.OnError(payload)
		}
	}
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/chat"
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

const tempIDPrefix = "temp-"

func tempMessageID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return tempIDPrefix + time.Now().Format("20060102150405.000000000")
	}
	return tempIDPrefix + hex.EncodeToString(buf)
}

// IsTempID reports whether a message ID is a client-side provisional ID.
func IsTempID(id string) bool { return strings.HasPrefix(id, tempIDPrefix) }
