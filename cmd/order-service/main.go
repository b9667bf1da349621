package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/farmshop-orders-go/internal/order/httpapi"
	"github.com/nazeru/farmshop-orders-go/internal/order/payment"
	"github.com/nazeru/farmshop-orders-go/internal/order/store"
	"github.com/nazeru/farmshop-orders-go/pkg/kafka"
	"github.com/nazeru/farmshop-orders-go/pkg/metrics"
	"github.com/nazeru/farmshop-orders-go/pkg/outbox"
)

type cfg struct {
	Port            string
	DatabaseURL     string
	ProviderBaseURL string
	WebhookSecret   string
	AdminToken      string
	SuccessURL      string
	CancelURL       string
	RequestTimeout  time.Duration
	KafkaBrokers    string
	KafkaTopic      string
	OutboxPoll      time.Duration
}

func readCfg() (cfg, error) {
	port := getenv("PORT", "8080")
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	secret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	if secret == "" {
		return cfg{}, errors.New("WEBHOOK_SECRET is required")
	}
	provider := strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	if provider == "" {
		return cfg{}, errors.New("PROVIDER_BASE_URL is required")
	}
	toutMS, _ := strconv.Atoi(getenv("REQUEST_TIMEOUT_MS", "2500"))
	pollMS, _ := strconv.Atoi(getenv("OUTBOX_POLL_MS", "1000"))

	return cfg{
		Port:            port,
		DatabaseURL:     db,
		ProviderBaseURL: strings.TrimRight(provider, "/"),
		WebhookSecret:   secret,
		AdminToken:      strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		SuccessURL:      getenv("SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CancelURL:       getenv("CANCEL_URL", "http://localhost:3000/cart"),
		RequestTimeout:  time.Duration(toutMS) * time.Millisecond,
		KafkaBrokers:    getenv("KAFKA_BROKERS", ""),
		KafkaTopic:      getenv("KAFKA_TOPIC", "farmshop.orders"),
		OutboxPoll:      time.Duration(pollMS) * time.Millisecond,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	if err := pingDB(ctx, pool); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	srvMetrics := metrics.NewServerMetrics("order_service")

	provider := payment.NewClient(cfg.ProviderBaseURL, &http.Client{Timeout: cfg.RequestTimeout})
	api := httpapi.New(
		&store.Products{Pool: pool},
		&store.Discounts{Pool: pool},
		&store.Orders{Pool: pool, Topic: cfg.KafkaTopic},
		provider,
		httpapi.Config{
			WebhookSecret: []byte(cfg.WebhookSecret),
			AdminToken:    cfg.AdminToken,
			SuccessURL:    cfg.SuccessURL,
			CancelURL:     cfg.CancelURL,
		},
		srvMetrics,
	)

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		writer := kafkaClient.NewWriter(cfg.KafkaTopic)
		defer writer.Close()
		pub := &outbox.Publisher{Pool: pool, Writer: writer, Interval: cfg.OutboxPoll}
		go pub.Run(context.Background())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"db_error"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	api.Register(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("order-service listening on :%s (kafka=%v)", cfg.Port, kafkaClient.Enabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func pingDB(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
