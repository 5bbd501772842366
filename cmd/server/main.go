// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"humanizer-api/internal/auth"
	"humanizer-api/internal/common/aws"
	"humanizer-api/internal/common/config"
	"humanizer-api/internal/common/database"
	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/history"
	"humanizer-api/internal/llm"
	"humanizer-api/internal/otp"
	"humanizer-api/internal/server"
	"humanizer-api/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := logger.NewZapAdapter(zapLogger).WithFields(map[string]interface{}{
		"app": cfg.App.Name,
		"env": cfg.App.Environment,
	})

	log.Info("Starting humanizer API", map[string]interface{}{
		"version": cfg.App.Version,
	})

	postgres, err := connectPostgres(cfg, log, 5, 2*time.Second)
	if err != nil {
		log.WithError(err).Error("Postgres connection failed", map[string]interface{}{})
		os.Exit(1)
	}
	defer postgres.Close()

	redis, err := connectRedis(cfg, log, 5, 2*time.Second)
	if err != nil {
		log.WithError(err).Error("Redis connection failed", map[string]interface{}{})
		os.Exit(1)
	}
	defer redis.Close()

	mailer, err := buildMailer(cfg, log)
	if err != nil {
		log.WithError(err).Error("SES client init failed", map[string]interface{}{})
		os.Exit(1)
	}

	llmClient := llm.NewClient(&cfg.Provider, log)
	llmService := llm.NewService(llmClient, log, cfg.Limits.MaxInputChars)

	userStore := users.NewStore(postgres.GetDB(), log)
	historyStore := history.NewStore(postgres.GetDB(), log)

	otpStore := otp.NewRedisStore(redis.GetClient())
	otpService := otp.NewService(otpStore, mailer, log, config.GetMinutes(cfg.OTP.TTL))

	tokens := auth.NewManager(cfg.Auth.JWTSecret, config.GetMinutes(cfg.Auth.TokenTTL))

	srv := server.New(cfg, log, llmService, userStore, historyStore, otpService, tokens, postgres, redis)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		log.Info("HTTP server listening", map[string]interface{}{
			"port": cfg.Server.Port,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failed", map[string]interface{}{})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down", map[string]interface{}{})
	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Shutdown incomplete", map[string]interface{}{})
	}
	log.Info("Shutdown complete", map[string]interface{}{})
}

func connectPostgres(cfg *config.Config, log logger.Logger, attempts int, delay time.Duration) (*database.PostgresClient, error) {
	var client *database.PostgresClient
	err := retryWithBackoff(attempts, delay, func() error {
		var err error
		client, err = database.NewPostgres(cfg.Database.Postgres)
		if err == nil {
			// sql.Open is lazy; only a ping proves the store is reachable.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(ctx)
			cancel()
		}
		if err != nil {
			log.WithError(err).Warn("Postgres not ready, retrying", map[string]interface{}{})
		}
		return err
	})
	return client, err
}

func connectRedis(cfg *config.Config, log logger.Logger, attempts int, delay time.Duration) (*database.RedisClient, error) {
	var client *database.RedisClient
	err := retryWithBackoff(attempts, delay, func() error {
		var err error
		client, err = database.NewRedis(cfg.Database.Redis)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(ctx)
			cancel()
		}
		if err != nil {
			log.WithError(err).Warn("Redis not ready, retrying", map[string]interface{}{})
		}
		return err
	})
	return client, err
}

// buildMailer returns the SES-backed mailer, or a log-only mailer when email
// delivery is switched off (local development).
func buildMailer(cfg *config.Config, log logger.Logger) (otp.Mailer, error) {
	if !cfg.Email.Enabled {
		return &logMailer{logger: log}, nil
	}

	client, err := aws.NewSESClient(context.Background(), cfg.Email.Region)
	if err != nil {
		return nil, err
	}
	return &sesMailer{client: client, from: cfg.Email.FromEmail}, nil
}

type sesMailer struct {
	client *aws.SESClient
	from   string
}

func (m *sesMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	return m.client.Send(ctx, m.from, to, subject, textBody, htmlBody)
}

// logMailer records delivery attempts without sending anything. The body is
// deliberately not logged; it carries the verification code.
type logMailer struct {
	logger logger.Logger
}

func (m *logMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	m.logger.Info("Email delivery disabled, dropping message", map[string]interface{}{
		"to":      to,
		"subject": subject,
	})
	return nil
}

func retryWithBackoff(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
