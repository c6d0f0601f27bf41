package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/handler"
	"github.com/phbpx/crm-intake/pkg/metrics"
	"github.com/phbpx/crm-intake/upsert"
	"github.com/phbpx/crm-intake/zoho"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logLevel is shared by every logger built from newLog.
var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func main() {

	log, err := newLog("intake-api")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run("intake-api", log); err != nil {
		log.Errorw("startup", "err", err)
		os.Exit(1)
	}
}

func run(serverName string, log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		Http struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			Host            string        `conf:"default:0.0.0.0:3000"`
			MaxBodyBytes    int64         `conf:"default:15728640"`
		}
		CORS struct {
			AllowedOrigins []string `conf:"default:*"`
		}
		Zoho struct {
			ClientID        string        `conf:"mask"`
			ClientSecret    string        `conf:"mask"`
			RefreshToken    string        `conf:"mask"`
			AccountsURL     string        `conf:"default:https://accounts.zoho.com"`
			APIURL          string        `conf:"default:https://www.zohoapis.com"`
			APIVersion      string        `conf:"default:v2"`
			Timeout         time.Duration `conf:"default:15s"`
			RateLimit       float64       `conf:"default:10"`
			Burst           int           `conf:"default:5"`
			LeadsModule     string        `conf:"default:Leads"`
			ProvidersModule string        `conf:"default:Surgeons"`
			TasksModule     string        `conf:"default:Tasks"`
		}
		Intake struct {
			CompleteMatch     []string      `conf:"default:session;email;phone"`
			PartialMatch      []string      `conf:"default:email;phone;session"`
			LeadMatch         []string      `conf:"default:session;email;phone"`
			MaxAttempts       int           `conf:"default:8"`
			AuditLogMax       int           `conf:"default:30000"`
			Diagnostics       bool          `conf:"default:true"`
			SideEffectTimeout time.Duration `conf:"default:5s"`
			CatalogTTL        time.Duration `conf:"default:5m"`
			PhoneRegion       string        `conf:"default:US"`
		}
		Jaeger struct {
			ReporterURI string  `conf:"default:http://localhost:14268/api/traces"`
			ServiceName string  `conf:"default:intake-api"`
			Probability float64 `conf:"default:0.5"`
		}
		Debug bool `conf:"default:false"`
	}{}

	help, err := conf.Parse("INTAKE", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Debug {
		logLevel.SetLevel(zapcore.DebugLevel)
		log.Debugw("startup", "status", "debug logging enabled")
	}

	matchOrder := make(map[intake.Kind][]intake.MatchKey, len(intake.Kinds))
	for kind, names := range map[intake.Kind][]string{
		intake.KindComplete: cfg.Intake.CompleteMatch,
		intake.KindPartial:  cfg.Intake.PartialMatch,
		intake.KindLead:     cfg.Intake.LeadMatch,
	} {
		order, err := intake.ParseMatchOrder(names)
		if err != nil {
			return fmt.Errorf("parsing %s match order: %w", kind, err)
		}
		matchOrder[kind] = order
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Start Tracing Support

	log.Infow("startup", "status", "initializing OT/Jaeger tracing support")

	traceProvider, err := startTracing(
		cfg.Jaeger.ServiceName,
		cfg.Jaeger.ReporterURI,
		cfg.Jaeger.Probability,
	)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	// =========================================================================
	// Metrics Support

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// =========================================================================
	// CRM Support

	log.Infow("startup", "status", "initializing CRM support", "api", cfg.Zoho.APIURL)

	client, tokens := zoho.Open(zoho.Config{
		ClientID:     cfg.Zoho.ClientID,
		ClientSecret: cfg.Zoho.ClientSecret,
		RefreshToken: cfg.Zoho.RefreshToken,
		AccountsURL:  cfg.Zoho.AccountsURL,
		APIURL:       cfg.Zoho.APIURL,
		APIVersion:   cfg.Zoho.APIVersion,
		Timeout:      cfg.Zoho.Timeout,
		RateLimit:    cfg.Zoho.RateLimit,
		Burst:        cfg.Zoho.Burst,
	}, m)

	// The service still starts without a token; every CRM call retries the
	// exchange and reports the failure to its caller.
	checkCtx, cancel := context.WithTimeout(context.Background(), cfg.Zoho.Timeout)
	if err := zoho.StatusCheck(checkCtx, tokens); err != nil {
		log.Warnw("startup", "status", "crm token unavailable", "error", err)
	}
	cancel()

	modules := zoho.Modules{
		Leads:     cfg.Zoho.LeadsModule,
		Providers: cfg.Zoho.ProvidersModule,
		Tasks:     cfg.Zoho.TasksModule,
	}

	// =========================================================================
	// Create router

	log.Infow("startup", "status", "initializing router")

	otelLog := otelzap.New(log.Desugar(), otelzap.WithStackTrace(true)).Sugar()

	catalogService := zoho.NewCatalogService(client, zoho.CatalogConfig{
		Module:   modules.Providers,
		CacheTTL: cfg.Intake.CatalogTTL,
	}, m)
	submissionService := upsert.NewService(zoho.NewLeadStore(client, modules), upsert.Config{
		MatchOrder:        matchOrder,
		MaxAttempts:       cfg.Intake.MaxAttempts,
		AuditLogMax:       cfg.Intake.AuditLogMax,
		Diagnostics:       cfg.Intake.Diagnostics,
		PhoneRegion:       cfg.Intake.PhoneRegion,
		SideEffectTimeout: cfg.Intake.SideEffectTimeout,
	}, otelLog.SugaredLogger, m)

	catalogHandler := handler.NewCatalogHandler(catalogService, otelLog.SugaredLogger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, cfg.Http.MaxBodyBytes, otelLog.SugaredLogger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(serverName, otelchi.WithChiRoutes(r)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handler.Mount(r, catalogHandler, submissionHandler)

	// =========================================================================
	// Start API Server

	log.Infow("startup", "status", "initializing http server", "host", cfg.Http.Host)

	// The HTTP Server
	server := &http.Server{
		Addr:         cfg.Http.Host,
		Handler:      r,
		ReadTimeout:  cfg.Http.ReadTimeout,
		WriteTimeout: cfg.Http.WriteTimeout,
		IdleTimeout:  cfg.Http.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		log.Infow("shutdown", "status", "shutdown started")

		shutdownCtx, cancel := context.WithTimeout(serverCtx, cfg.Http.ShutdownTimeout)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	// Run the server
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	// Wait for server context to be stopped
	<-serverCtx.Done()

	log.Infow("shutdown", "status", "shutdown complete")
	return nil
}

func newLog(serviceName string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.Level = logLevel
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

func startTracing(serviceName, reporterURL string, probability float64) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(reporterURL)))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(probability))),
		// Always be sure to batch in production.
		tracesdk.WithBatcher(exp,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		// Record information about this application in a Resource.
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("exporter", "jaeger"),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}
