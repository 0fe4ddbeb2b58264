package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/studiovoce/booking/libs/config"
	"github.com/studiovoce/booking/libs/db"
	"github.com/studiovoce/booking/libs/httpx"
	"github.com/studiovoce/booking/libs/kafkax"
	otelx "github.com/studiovoce/booking/libs/otel"
	"github.com/studiovoce/booking/libs/runtime"
	"github.com/studiovoce/booking/services/notification-service/internal/consumer"
	"github.com/studiovoce/booking/services/notification-service/internal/email"
	"github.com/studiovoce/booking/services/notification-service/internal/inbox"
	"github.com/studiovoce/booking/services/notification-service/internal/message"
	"github.com/studiovoce/booking/services/notification-service/internal/storage"
)

const (
	topicBookingConfirmed = "booking.confirmed.v1"
	topicBookingCancelled = "booking.cancelled.v1"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	studioTZ := config.String("BUSINESS_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(studioTZ)
	if err != nil {
		logger.Error("invalid BUSINESS_TIMEZONE", "err", err, "value", studioTZ)
		panic(err)
	}

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "bookings@studiovoce.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  []string{topicBookingConfirmed, topicBookingCancelled},
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case topicBookingConfirmed:
			return handleConfirmed(ctx, logger, emailSender, notificationsRepo, loc, msg)
		case topicBookingCancelled:
			return handleCancelled(ctx, logger, notificationsRepo, msg)
		default:
			logger.Warn("unexpected topic", "topic", msg.Topic)
			return nil
		}
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	root := otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func handleConfirmed(ctx context.Context, logger *slog.Logger, sender email.Sender, repo *storage.Repository, loc *time.Location, msg kafka.Message) error {
	var evt message.ConfirmedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.Error("invalid confirmed payload", "err", err)
		return nil
	}
	if err := evt.Validate(); err != nil {
		logger.Error("confirmed payload rejected", "err", err)
		return nil
	}

	status := "sent"
	subject, body := message.RenderConfirmation(evt, loc)
	if err := sender.Send(evt.ClientEmail, subject, body); err != nil {
		status = "failed"
		logger.Error("confirmation email failed", "err", err, "recipient", evt.ClientEmail)
	}

	if err := repo.Insert(ctx, storage.Notification{
		EventID:   evt.EventID,
		EventType: topicBookingConfirmed,
		Recipient: evt.ClientEmail,
		Payload: map[string]any{
			"service_kind": evt.ServiceKind,
			"start_time":   evt.StartTime,
			"client_name":  evt.ClientName,
		},
		Status: status,
	}); err != nil {
		logger.Error("failed to persist notification", "err", err)
		return err
	}

	logger.Info("confirmation processed", "event_id", evt.EventID, "status", status)
	return nil
}

func handleCancelled(ctx context.Context, logger *slog.Logger, repo *storage.Repository, msg kafka.Message) error {
	var evt message.CancelledEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.Error("invalid cancelled payload", "err", err)
		return nil
	}
	if strings.TrimSpace(evt.EventID) == "" {
		logger.Error("cancelled payload missing event_id")
		return nil
	}

	if err := repo.Insert(ctx, storage.Notification{
		EventID:   evt.EventID,
		EventType: topicBookingCancelled,
		Payload: map[string]any{
			"reason":       evt.Reason,
			"cancelled_at": evt.CancelledAt,
		},
		Status: "recorded",
	}); err != nil {
		logger.Error("failed to persist cancellation", "err", err)
		return err
	}

	logger.Info("cancellation recorded", "event_id", evt.EventID)
	return nil
}
