package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	apporder "github.com/noodleworks/orderflow/internal/application/order"
	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	auditsink "github.com/noodleworks/orderflow/internal/infrastructure/audit"
	"github.com/noodleworks/orderflow/internal/infrastructure/gateway"
	"github.com/noodleworks/orderflow/internal/infrastructure/id"
	"github.com/noodleworks/orderflow/internal/infrastructure/memory"
	"github.com/noodleworks/orderflow/internal/infrastructure/observability/oteltrace"
	"github.com/noodleworks/orderflow/internal/infrastructure/observability/prometrics"
	"github.com/noodleworks/orderflow/internal/infrastructure/observability/telemetry"
	"github.com/noodleworks/orderflow/internal/infrastructure/observability/zaplogger"
	"github.com/noodleworks/orderflow/internal/infrastructure/outbox"
	"github.com/noodleworks/orderflow/internal/infrastructure/timer"
	"github.com/noodleworks/orderflow/internal/infrastructure/validation"
	"github.com/noodleworks/orderflow/internal/infrastructure/worker"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/pkg/logging"
	httppresentation "github.com/noodleworks/orderflow/internal/presentation/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "orderflow")
	env := getenvDefault("ENV", "dev")
	apiAddr := getenvDefault("API_ADDR", ":8080")
	validationAddr := getenvDefault("VALIDATION_ADDR", ":8081")
	validationURL := getenvDefault("VALIDATION_URL", "http://localhost:8081")
	successRate := getenvFloat("GATEWAY_SUCCESS_RATE", 0.9)
	gatewayLatency := getenvDuration("GATEWAY_LATENCY", 50*time.Millisecond)
	paymentTimeout := getenvDuration("PAYMENT_TIMEOUT", 15*time.Minute)
	highValue := getenvDecimal("HIGH_VALUE_THRESHOLD", decimal.NewFromInt(1000))

	baseLogger := logging.MustNewLogger(serviceName, env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	obsLogger := zaplogger.Wrap(baseLogger)
	tel := buildTelemetry(serviceName, obsLogger)
	systemLogger := tel.Logger().With(observability.F("component", "main"))

	orderRepo := memory.NewOrderRepository()
	paymentRepo := memory.NewPaymentRepository()
	catalog := memory.DefaultMenu()
	scheduler := timer.NewScheduler()
	defer scheduler.Stop()

	bus := outbox.NewBus(obsLogger, tel)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	audit := auditsink.NewZapSink(obsLogger)

	orderService := apporder.NewService(orderRepo, catalog, bus, audit, tel)
	paymentService := apppayment.NewService(paymentRepo)

	validationServer := validation.NewServer(orderRepo, obsLogger)
	validator := validation.NewClient(validationURL, obsLogger, tel)
	paymentGateway := gateway.NewSimulator(successRate, gatewayLatency)

	orderWorker := apporder.NewWorker(
		orderService,
		worker.NewInstrumentedSubscriber(bus, obsLogger, "order-worker"),
		scheduler,
		audit,
		paymentTimeout,
		tel,
	)
	paymentWorker := apppayment.NewWorker(
		paymentRepo,
		validator,
		paymentGateway,
		worker.NewInstrumentedSubscriber(bus, obsLogger, "payment-worker"),
		bus,
		audit,
		apppayment.Config{HighValueThreshold: highValue},
		tel,
	)
	orderWorker.Start()
	paymentWorker.Start()

	apiHandler := httppresentation.NewHandler(orderService, paymentService, id.NewUUIDGenerator(), tel)
	apiMux := http.NewServeMux()
	apiMux.Handle("/metrics", promhttp.Handler())
	apiMux.Handle("/", apiHandler.Router())

	apiServer := &http.Server{Addr: apiAddr, Handler: apiMux}
	rpcServer := &http.Server{Addr: validationAddr, Handler: validationServer.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runServer(gctx, systemLogger, "api", apiServer) })
	g.Go(func() error { return runServer(gctx, systemLogger, "order_validation", rpcServer) })

	if err := g.Wait(); err != nil {
		systemLogger.Error("server_exit", observability.F("error", err.Error()))
	} else {
		systemLogger.Info("servers_stopped")
	}
}

func runServer(ctx context.Context, log observability.Logger, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http_server_start",
			observability.F("server", name),
			observability.F("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error",
			observability.F("server", name),
			observability.F("error", err.Error()),
		)
		return err
	}
	log.Info("http_server_stopped", observability.F("server", name))
	return <-errCh
}

// buildTelemetry registers every metric vector once and assembles the
// observability facade around them.
func buildTelemetry(serviceName string, logger observability.Logger) observability.Observability {
	reg := prometrics.New(serviceName, "")

	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MExternalRequests: reg.Counter(
			string(observability.MExternalRequests),
			"Calls made to external services.",
			"peer", "endpoint", "outcome",
		),
		observability.MSagaEvents: reg.Counter(
			string(observability.MSagaEvents),
			"Events delivered through the saga bus.",
			"event", "attempt_gt_one",
		),
		observability.MPaymentOutcomes: reg.Counter(
			string(observability.MPaymentOutcomes),
			"Terminal payment outcomes by code.",
			"outcome",
		),
		observability.MHTTPRequests: reg.Counter(
			string(observability.MHTTPRequests),
			"HTTP requests served.",
			"method", "route", "status",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MExternalRequestDuration: reg.Histogram(
			string(observability.MExternalRequestDuration),
			"Latency of external service calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
		observability.MHTTPRequestDuration: reg.Histogram(
			string(observability.MHTTPRequestDuration),
			"HTTP request latency in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
	}

	return telemetry.New(oteltrace.New(serviceName), logger, counters, histograms)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
