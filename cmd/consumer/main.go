package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"

	"github.com/example/rideshare/internal/config"
	"github.com/example/rideshare/internal/dispatch"
	"github.com/example/rideshare/internal/logging"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total booking event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	inboxWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_inbox_writes_total",
		Help: "Total events written to user notification inboxes",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total inbox writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, inboxWrites, redisErrors)
}

func main() {
	metricsAddr := pflag.String("metrics-addr", ":2112", "address to serve prometheus metrics on")
	pflag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("rideshare-consumer", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	inbox := &redisInbox{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroupID, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var env dispatch.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil || env.Event.Type == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		for _, userID := range env.Audience.UserIDs {
			if err := pushWithRetry(ctx, inbox, userID, m.Value, cfg.InboxSize, cfg.MaxAttempts, cfg.RetryBackoff); err != nil {
				redisErrors.Inc()
				logger.Error("inbox write failed", "user_id", userID, "event", env.Event.Type, "booking_id", env.Event.BookingID, "error", err)
				continue
			}
			inboxWrites.Inc()
		}
	}
}

// InboxWriter is the subset of redis list operations the consumer needs.
type InboxWriter interface {
	LPush(ctx context.Context, key string, value []byte) error
	LTrim(ctx context.Context, key string, keep int) error
}

type redisInbox struct{ c *redis.Client }

func (r *redisInbox) LPush(ctx context.Context, key string, value []byte) error {
	return r.c.LPush(ctx, key, value).Err()
}

func (r *redisInbox) LTrim(ctx context.Context, key string, keep int) error {
	return r.c.LTrim(ctx, key, 0, int64(keep-1)).Err()
}

func inboxKey(userID string) string { return "notifications:" + userID }

// pushWithRetry prepends the event to the user's inbox and caps it at keep
// entries, retrying with doubling delay. A failed trim is retried without
// pushing the event again.
func pushWithRetry(ctx context.Context, w InboxWriter, userID string, value []byte, keep, attempts int, delay time.Duration) error {
	if userID == "" {
		return errors.New("empty user id")
	}
	key := inboxKey(userID)
	pushed := false
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if !pushed {
			if err = w.LPush(ctx, key, value); err != nil {
				continue
			}
			pushed = true
		}
		if err = w.LTrim(ctx, key, keep); err != nil {
			continue
		}
		return nil
	}
	return err
}
