// Command server runs the dice game WebSocket server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/verlyn13/dicee/internal/v1/auth"
	"github.com/verlyn13/dicee/internal/v1/bus"
	"github.com/verlyn13/dicee/internal/v1/config"
	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/verlyn13/dicee/internal/v1/ratelimit"
	"github.com/verlyn13/dicee/internal/v1/room"
	"github.com/verlyn13/dicee/internal/v1/router"
)

func main() {
	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}
	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	validator := buildValidator(cfg)

	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer busSvc.Close()
	}

	var rl *ratelimit.RateLimiter
	if busSvc != nil {
		rl, err = ratelimit.NewRateLimiter(cfg, busSvc.Client())
		if err != nil {
			logger.Fatal("failed to construct rate limiter", zap.Error(err))
		}
	}

	roomCfg := room.Config{
		ReconnectWindow:   time.Duration(cfg.ReconnectWindowMillis) * time.Millisecond,
		AFKGrace:          time.Duration(cfg.AFKGraceSeconds) * time.Second,
		PauseTimeout:      time.Duration(cfg.PauseTimeoutSeconds) * time.Second,
		SeatSweepInterval: time.Duration(cfg.SeatExpirationSweepSeconds) * time.Second,
		InviteExpiry:      time.Duration(cfg.InviteExpirySeconds) * time.Second,
		JoinRequestExpiry: time.Duration(cfg.JoinRequestExpirySeconds) * time.Second,
		AITurnWatchdog:    time.Duration(cfg.AITurnWatchdogSeconds) * time.Second,
		AITurnMaxRetries:  cfg.AITurnMaxRetries,
		WarmSeatCountdown: time.Duration(cfg.WarmSeatCountdownSeconds) * time.Second,
	}

	rt := router.New(cfg, roomCfg, validator, busSvc, rl)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rt.Engine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildValidator(cfg *config.Config) *auth.Validator {
	if cfg.JWTSecret != "" {
		return auth.NewHSValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	}
	v, err := auth.NewValidator(context.Background(), cfg.JWKSURL, cfg.JWTAudience)
	if err != nil {
		logging.GetLogger().Fatal("failed to construct JWKS validator", zap.Error(err))
	}
	return v
}
