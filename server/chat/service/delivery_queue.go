package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"crm_server/server/chat/domain"
	commonlog "crm_server/server/common/log"
)

type JobKind string

const (
	JobKindText  JobKind = "text"
	JobKindMedia JobKind = "media"
)

const outboundQueueName = "whatsapp.outbound"

// DeliveryJob is one outbound send tracked by the queue.
type DeliveryJob struct {
	ID        string  `json:"id"`
	Kind      JobKind `json:"kind"`
	To        string  `json:"to"`
	Message   string  `json:"message,omitempty"`
	MediaURL  string  `json:"media_url,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	Attempts  int     `json:"attempts"`
}

type gatewaySender interface {
	SendText(ctx context.Context, to, message string) error
	SendMedia(ctx context.Context, to, mediaURL, caption, mediaType string) error
}

type deliveryRecorder interface {
	RecordDeliveryResult(ctx context.Context, messageID string, status domain.MessageStatus)
}

// QueueStatus counters are per-process: completed/failed/active count work
// done by this instance's workers. In AMQP mode waiting comes from the broker
// and is shared, so totals differ between worker processes.
type QueueStatus struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

type DeliveryQueueConfig struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c DeliveryQueueConfig) withDefaults() DeliveryQueueConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// DeliveryQueue decouples the send endpoints from the gateway call. Jobs are
// pushed to a durable RabbitMQ queue when a connection is attached (so any
// worker process may claim them; unacked jobs are redelivered on crash) or to
// an in-process channel otherwise. A worker retries a job with doubling
// backoff up to MaxAttempts, then marks it terminally FAILED.
type DeliveryQueue struct {
	cfg     DeliveryQueueConfig
	gateway gatewaySender

	pubCh *amqp.Channel
	conCh *amqp.Channel
	local chan DeliveryJob

	mu       sync.RWMutex
	recorder deliveryRecorder

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func NewDeliveryQueue(gateway gatewaySender, cfg DeliveryQueueConfig) *DeliveryQueue {
	return &DeliveryQueue{
		cfg:     cfg.withDefaults(),
		gateway: gateway,
		local:   make(chan DeliveryJob, 1024),
	}
}

// UseAMQP attaches durable job transport. Separate channels for publish and
// consume; amqp channels serialize their own operations but mixing acks and
// publishes on one channel is asking for trouble.
func (q *DeliveryQueue) UseAMQP(conn *amqp.Connection) error {
	pubCh, err := conn.Channel()
	if err != nil {
		return err
	}
	conCh, err := conn.Channel()
	if err != nil {
		_ = pubCh.Close()
		return err
	}
	if _, err := pubCh.QueueDeclare(outboundQueueName, true, false, false, false, nil); err != nil {
		_ = pubCh.Close()
		_ = conCh.Close()
		return err
	}
	q.pubCh = pubCh
	q.conCh = conCh
	return nil
}

func (q *DeliveryQueue) SetRecorder(recorder deliveryRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recorder = recorder
}

func (q *DeliveryQueue) Start(ctx context.Context) error {
	if q.conCh != nil {
		if err := q.conCh.Qos(q.cfg.Workers, 0, false); err != nil {
			return err
		}
		deliveries, err := q.conCh.Consume(outboundQueueName, "", false, false, false, false, nil)
		if err != nil {
			return err
		}
		for i := 0; i < q.cfg.Workers; i++ {
			go q.amqpWorker(ctx, deliveries)
		}
		return nil
	}
	for i := 0; i < q.cfg.Workers; i++ {
		go q.localWorker(ctx)
	}
	return nil
}

func (q *DeliveryQueue) Close() {
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	if q.conCh != nil {
		_ = q.conCh.Close()
	}
}

func (q *DeliveryQueue) EnqueueText(ctx context.Context, to, message, messageID string) (string, error) {
	job := DeliveryJob{ID: newJobID(), Kind: JobKindText, To: to, Message: message, MessageID: messageID}
	return job.ID, q.enqueue(ctx, job)
}

func (q *DeliveryQueue) EnqueueMedia(ctx context.Context, to, mediaURL, caption, mediaType, messageID string) (string, error) {
	job := DeliveryJob{ID: newJobID(), Kind: JobKindMedia, To: to, MediaURL: mediaURL, Caption: caption, MediaType: mediaType, MessageID: messageID}
	return job.ID, q.enqueue(ctx, job)
}

func (q *DeliveryQueue) enqueue(ctx context.Context, job DeliveryJob) error {
	if q.pubCh != nil {
		body, err := json.Marshal(job)
		if err != nil {
			return err
		}
		err = q.pubCh.PublishWithContext(ctx, "", outboundQueueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		})
		if err != nil {
			return err
		}
		commonlog.Infof("event=delivery_queue action=enqueue status=ok transport=amqp job_id=%s kind=%s to=%s", job.ID, job.Kind, job.To)
		return nil
	}

	select {
	case q.local <- job:
		q.waiting.Add(1)
		commonlog.Infof("event=delivery_queue action=enqueue status=ok transport=local job_id=%s kind=%s to=%s", job.ID, job.Kind, job.To)
		return nil
	default:
		return errors.New("delivery queue is full")
	}
}

func (q *DeliveryQueue) amqpWorker(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var job DeliveryJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				commonlog.Errorf("event=delivery_queue action=decode status=failed error=%v", err)
				_ = d.Nack(false, false)
				continue
			}
			q.process(ctx, job)
			_ = d.Ack(false)
		}
	}
}

func (q *DeliveryQueue) localWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.local:
			q.waiting.Add(-1)
			q.process(ctx, job)
		}
	}
}

func (q *DeliveryQueue) process(ctx context.Context, job DeliveryJob) {
	q.active.Add(1)
	defer q.active.Add(-1)

	var err error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		job.Attempts = attempt
		err = q.send(ctx, job)
		if err == nil {
			q.completed.Add(1)
			commonlog.Infof("event=delivery_queue action=send status=ok job_id=%s kind=%s to=%s attempts=%d", job.ID, job.Kind, job.To, attempt)
			return
		}
		commonlog.Warnf("event=delivery_queue action=send status=retry job_id=%s kind=%s to=%s attempt=%d error=%v", job.ID, job.Kind, job.To, attempt, err)
		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff(attempt)):
		}
	}

	q.failed.Add(1)
	commonlog.Errorf("event=delivery_queue action=send status=failed_terminal job_id=%s kind=%s to=%s attempts=%d error=%v", job.ID, job.Kind, job.To, job.Attempts, err)
	q.mu.RLock()
	recorder := q.recorder
	q.mu.RUnlock()
	if recorder != nil {
		recorder.RecordDeliveryResult(ctx, job.MessageID, domain.StatusFailed)
	}
}

func (q *DeliveryQueue) send(ctx context.Context, job DeliveryJob) error {
	switch job.Kind {
	case JobKindMedia:
		return q.gateway.SendMedia(ctx, job.To, job.MediaURL, job.Caption, job.MediaType)
	default:
		return q.gateway.SendText(ctx, job.To, job.Message)
	}
}

func (q *DeliveryQueue) backoff(attempt int) time.Duration {
	d := q.cfg.BaseBackoff << (attempt - 1)
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d
}

func (q *DeliveryQueue) Status() QueueStatus {
	status := QueueStatus{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
	if q.pubCh != nil {
		if queue, err := q.pubCh.QueueDeclarePassive(outboundQueueName, true, false, false, false, nil); err == nil {
			status.Waiting = int64(queue.Messages)
		}
	}
	status.Total = status.Waiting + status.Active + status.Completed + status.Failed
	return status
}

func newJobID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(buf)
}
