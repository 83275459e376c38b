package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/api"
	"github.com/jengzang/dining-presence-go/internal/config"
	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/logging"
	"github.com/jengzang/dining-presence-go/internal/middleware"
	"github.com/jengzang/dining-presence-go/internal/relay"
)

func main() {
	configPath := flag.String("config", "presence.yaml", "YAML config file")
	issue := flag.String("issue", "", "print a token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	tokens := relay.NewTokens(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL)
	if *issue != "" {
		token, err := tokens.Issue(*issue)
		if err != nil {
			log.Fatal("Failed to issue token:", err)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var inbox relay.Inbox = relay.NewMemoryInbox()
	if cfg.Relay.RedisAddr != "" {
		rdb := relay.NewRedis(cfg.Relay.RedisAddr, cfg.Relay.RedisDB)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Relay.RedisAddr), zap.Error(err))
		}
		// keep envelopes a little past the point friends stop showing them
		inbox = relay.NewRedisInbox(rdb, 2*fanout.UpdateLimit)
		logger.Info("using redis inbox", zap.String("addr", cfg.Relay.RedisAddr))
	}

	limiter := middleware.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateWindow)
	defer limiter.Close()

	router := api.SetupRouter(relay.NewHandler(inbox, logger), tokens, limiter, logger)
	srv := &http.Server{
		Addr:              cfg.Relay.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("relay starting", zap.String("addr", cfg.Relay.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
