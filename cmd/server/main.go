package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canonsafe-governance/backend/internal/apigateway"
	"canonsafe-governance/backend/internal/appconfig"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"
	"canonsafe-governance/backend/internal/platform/otel"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "canonsafe-governance"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("Failed to flush traces: %v", err)
		}
	}()

	store, err := datastore.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	var archive objectstore.Archiver
	if cfg.Minio.Endpoint != "" {
		minioArchive, err := objectstore.NewMinioArchive(ctx, objectstore.MinioConfig{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AccessKeyID,
			SecretAccessKey: cfg.Minio.SecretAccessKey,
			BucketName:      cfg.Minio.BucketName,
			UseSSL:          cfg.Minio.UseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize MinIO archive: %v", err)
		}
		archive = minioArchive
	} else {
		log.Println("WARNING: MINIO_ENDPOINT not set; evidence is kept in memory only.")
		archive = objectstore.NewMemoryArchive()
	}

	criticClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	services, sweeper, err := apigateway.NewServices(cfg, store, archive, criticClient)
	if err != nil {
		log.Fatalf("Failed to wire services: %v", err)
	}
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(apigateway.SetupRouter(services), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Starting server on :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}
