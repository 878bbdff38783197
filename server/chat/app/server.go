package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	chatapi "crm_server/server/chat/api"
	chatservice "crm_server/server/chat/service"
	commonauth "crm_server/server/common/auth"
	"crm_server/server/common/infra/cache"
	"crm_server/server/common/infra/db"
	"crm_server/server/common/infra/mq"
	"crm_server/server/common/infra/object"
	commonlog "crm_server/server/common/log"
	"crm_server/server/dbman/repository"
)

type Server struct {
	HTTPServer *http.Server

	hub     *chatservice.Hub
	queue   *chatservice.DeliveryQueue
	monitor *chatservice.HealthMonitor

	pool     *pgxpool.Pool
	redis    *redis.Client
	amqpConn *amqp.Connection
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	contacts := repository.NewContactRepository(pool)
	chats := repository.NewChatRepository(pool)
	messages := repository.NewMessageRepository(pool)
	quickReplies := repository.NewQuickReplyRepository(pool)

	hub := chatservice.NewHub()
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			commonlog.Warnf("event=chat_app action=redis_ping status=failed addr=%s error=%v", cfg.RedisAddr, err)
		}
		hub.UseRedis(redisClient)
	}

	gateway := chatservice.NewWhatsAppService(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayInstance, cfg.GatewayTimeout)

	queue := chatservice.NewDeliveryQueue(gateway, chatservice.DeliveryQueueConfig{
		Workers:     cfg.QueueWorkers,
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseBackoff: cfg.QueueBaseBackoff,
	})
	var amqpConn *amqp.Connection
	if cfg.AMQPURL != "" {
		amqpConn, err = mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := queue.UseAMQP(amqpConn); err != nil {
			pool.Close()
			_ = amqpConn.Close()
			return nil, err
		}
	}

	chatSvc := chatservice.NewChatService(contacts, chats, messages, quickReplies, hub, queue)
	queue.SetRecorder(chatSvc)

	webhookSvc := chatservice.NewWebhookService(chatSvc, nil)
	if cfg.MinioEndpoint != "" {
		objectClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := object.EnsureBucket(ctx, objectClient, cfg.MinioBucket); err != nil {
			commonlog.Warnf("event=chat_app action=ensure_bucket status=failed bucket=%s error=%v", cfg.MinioBucket, err)
		}
		mediaSvc := chatservice.NewMediaService(objectClient, cfg.MinioBucket, contacts)
		webhookSvc = chatservice.NewWebhookService(chatSvc, mediaSvc)
	}

	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	realtime := chatservice.NewRealtimeService(auth, hub, chatSvc, cfg.AllowedOrigin)
	monitor := chatservice.NewHealthMonitor(gateway, hub, cfg.HealthInterval)

	h := chatapi.NewHandler(auth, chatSvc, webhookSvc, queue, gateway, realtime)

	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		hub:        hub,
		queue:      queue,
		monitor:    monitor,
		pool:       pool,
		redis:      redisClient,
		amqpConn:   amqpConn,
	}, nil
}

// Start runs the background workers. The HTTP listener is the caller's to run.
func (s *Server) Start(ctx context.Context) error {
	if s.redis != nil {
		if err := s.hub.StartRedisSubscriber(ctx); err != nil {
			return err
		}
	}
	if err := s.queue.Start(ctx); err != nil {
		return err
	}
	s.monitor.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.hub.StopRedisSubscriber()
	s.queue.Close()
	if s.amqpConn != nil {
		_ = s.amqpConn.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.pool.Close()
	return err
}
