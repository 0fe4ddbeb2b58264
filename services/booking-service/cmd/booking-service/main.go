package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/studiovoce/booking/libs/config"
	"github.com/studiovoce/booking/libs/db"
	"github.com/studiovoce/booking/libs/httpx"
	"github.com/studiovoce/booking/libs/kafkax"
	otelx "github.com/studiovoce/booking/libs/otel"
	"github.com/studiovoce/booking/libs/runtime"
	"github.com/studiovoce/booking/services/booking-service/internal/booking"
	"github.com/studiovoce/booking/services/booking-service/internal/calendar"
	"github.com/studiovoce/booking/services/booking-service/internal/handlers"
	"github.com/studiovoce/booking/services/booking-service/internal/notify"
	"github.com/studiovoce/booking/services/booking-service/internal/outbox"
	"github.com/studiovoce/booking/services/booking-service/internal/payment"
	"github.com/studiovoce/booking/services/booking-service/internal/policy"
	"github.com/studiovoce/booking/services/booking-service/internal/storage"
)

const serviceName = "booking-service"

func main() {
	logger := runtime.NewLogger(serviceName)
	if err := run(logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}

	shutdownTracer, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	pol, err := policy.FromEnv()
	if err != nil {
		return err
	}
	logger.Info("business policy loaded",
		"timezone", pol.Location.String(),
		"day_start_hour", pol.DayStartHour,
		"day_end_hour", pol.DayEndHour,
		"slot_minutes", pol.SlotMinutes,
	)

	var (
		store    booking.CalendarStore
		admin    handlers.AdminCalendar
		sink     booking.NotificationSink
		notifier handlers.CancelNotifier
		idem     handlers.IdempotencyStore
		checks   []runtime.ReadyCheck
	)

	switch config.String("CALENDAR_STORE", "postgres") {
	case "memory":
		logger.Warn("using in-memory calendar store; bookings do not survive restarts")
		mem := calendar.NewMemoryStore(pol.Location)
		logSink := notify.NewLogSink(logger)
		store, admin = mem, mem
		sink, notifier = logSink, logSink
	case "postgres":
		dsn, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return err
		}
		pool, err := db.Open(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := calendar.NewPostgresStore(pool, pol.Location)
		repo := outbox.NewRepository(pool)
		outboxSink := notify.NewOutboxSink(pool, repo)
		store, admin = pg, pg
		sink, notifier = outboxSink, outboxSink
		idem = storage.NewIdempotencyRepo(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)})

		brokers := config.String("KAFKA_BROKERS", "")
		if brokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
		publisher := outbox.NewPublisher(pool, repo, logger, outbox.PublisherConfig{Brokers: brokers})
		go publisher.Run(ctx)
	default:
		return errors.New("CALENDAR_STORE must be memory or postgres")
	}

	var payments payment.Provider
	switch config.String("PAYMENT_PROVIDER", "mock") {
	case "mock":
		payments = payment.NewMockProvider()
	case "stripe":
		key, err := config.RequiredString("STRIPE_SECRET_KEY")
		if err != nil {
			return err
		}
		payments = payment.NewStripeProvider(key, config.String("STRIPE_CURRENCY", "usd"))
	case "none":
		payments = nil
	default:
		return errors.New("PAYMENT_PROVIDER must be mock, stripe, or none")
	}

	engine := booking.NewEngine(store, sink, pol, logger)
	handler := handlers.NewBookingHandler(engine, admin, notifier, payments, idem, logger)

	rateLimit, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return err
	}
	var limit httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		limit = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "booking").Middleware(logger, true)
	} else {
		limit = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	cors := httpx.WithCORS(httpx.CORSPolicy{
		AllowedOrigins: splitOrigins(config.String("CORS_ALLOWED_ORIGINS", "")),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key"},
		MaxAge:         10 * time.Minute,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/v1/public/slots", httpx.Chain(http.HandlerFunc(handler.Slots), cors, limit))
	mux.Handle("/api/v1/public/book", httpx.Chain(http.HandlerFunc(handler.Book), cors, limit))
	mux.HandleFunc("/api/v1/appointments", handler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", handler.Cancel)

	root := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	root = otelhttp.NewHandler(root, serviceName)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
