package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	incidenthandler "pandi/internal/incident/handler"
	incidentservice "pandi/internal/incident/service"
	incidentstore "pandi/internal/incident/store"
	"pandi/internal/invoice/chase"
	invoicehandler "pandi/internal/invoice/handler"
	"pandi/internal/invoice/numbering"
	invoiceservice "pandi/internal/invoice/service"
	invoicestore "pandi/internal/invoice/store"
	"pandi/internal/platform/config"
	"pandi/internal/platform/httpserver"
	"pandi/internal/platform/logger"
	"pandi/internal/platform/metrics"
	"pandi/internal/platform/middleware"
	registryhandler "pandi/internal/registry/handler"
	registryservice "pandi/internal/registry/service"
	registrystore "pandi/internal/registry/store"
	"pandi/internal/registry/usage"
	httptransport "pandi/internal/transport/http"
	"pandi/pkg/platform/audit"
	auditmemory "pandi/pkg/platform/audit/store/memory"
	auditpostgres "pandi/pkg/platform/audit/store/postgres"
	auditpublisher "pandi/pkg/platform/audit/publisher"
	"pandi/pkg/platform/tx"
)

// main wires the dependency graph and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	var (
		entityStore   registrystore.EntityStore
		incidentStore incidentstore.IncidentStore
		invoiceStore  invoicestore.InvoiceStore
		auditStore    audit.Store
		allocator     numbering.Allocator
		runner        tx.Runner = tx.Passthrough{}
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Error("ping database", "error", err.Error())
			os.Exit(1)
		}
		entityStore = registrystore.NewPostgres(db)
		incidentStore = incidentstore.NewPostgres(db)
		invoiceStore = invoicestore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
		allocator = numbering.NewPostgres(db)
		runner = tx.NewSQLRunner(db)
		log.Info("using postgres stores")
	} else {
		entityStore = registrystore.NewInMemory()
		incidentStore = incidentstore.NewInMemory()
		invoiceStore = invoicestore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
		allocator = numbering.NewMemory()
		log.Info("using in-memory stores")
	}

	var chaseIndex chase.Index = chase.NewMemory()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Error("ping redis", "error", err.Error())
			os.Exit(1)
		}
		defer client.Close()
		chaseIndex = chase.NewRedis(client)
		log.Info("using redis chase index", "addr", cfg.RedisAddr)
	}

	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := auditpublisher.NewKafka(cfg.KafkaBrokers, auditpublisher.DefaultTopic)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
		log.Info("publishing audit events to kafka", "topic", auditpublisher.DefaultTopic)
	}

	recorder := audit.NewRecorder(auditStore, publisher, log)
	m := metrics.New()

	usageIndex := usage.NewIndex(map[usage.RecordType]usage.Source{
		usage.RecordIncident: incidentStore,
		usage.RecordInvoice:  invoiceStore,
		usage.RecordFeeLine:  invoiceStore,
	})

	registrySvc := registryservice.NewCoordinator(entityStore, usageIndex, runner, recorder, m)
	incidentSvc := incidentservice.New(incidentStore, entityStore, runner, recorder, m)
	invoiceSvc := invoiceservice.New(invoiceStore, incidentStore, entityStore, allocator, chaseIndex, runner, recorder, m, log)

	var validator middleware.JWTValidator
	if !cfg.AuthDisabled {
		validator = middleware.NewHMACValidator(cfg.JWTSigningKey)
	}

	router := httptransport.NewRouter(log, validator,
		registryhandler.New(registrySvc, log),
		incidenthandler.New(incidentSvc, log),
		invoicehandler.New(invoiceSvc, log),
	)

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("server stopped")
}
