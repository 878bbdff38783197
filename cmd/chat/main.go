package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chatapp "crm_server/server/chat/app"
	commonlog "crm_server/server/common/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := chatapp.ConfigFromEnv()

	chatServer, err := chatapp.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("initialize chat server: %v", err)
	}
	if err := chatServer.Start(ctx); err != nil {
		log.Fatalf("start chat workers: %v", err)
	}

	go func() {
		commonlog.Infof("start chat http server on :%s", cfg.Port)
		if err := chatServer.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run chat http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown chat server gracefully: %v", err)
	}
}
