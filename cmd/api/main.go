package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "cnpjconsulta/cmd/internal/config"
	"cnpjconsulta/cmd/internal/domain/sqlite"
	"cnpjconsulta/cmd/internal/domain/sqlite/repository"
	"cnpjconsulta/cmd/internal/http/handler"
	"cnpjconsulta/cmd/internal/infrastructure/provider"
	"cnpjconsulta/cmd/internal/infrastructure/provider/cnpjaopen"
	"cnpjconsulta/cmd/internal/infrastructure/provider/cnpjws"
	"cnpjconsulta/cmd/internal/infrastructure/provider/receitaws"
	"cnpjconsulta/cmd/internal/service"
	"cnpjconsulta/cmd/internal/service/queue"
	"cnpjconsulta/cmd/internal/service/ratelimit"
	"cnpjconsulta/cmd/internal/service/router"
	"cnpjconsulta/cmd/internal/utils/validators"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

const envVarsPrefix = "/cnpjconsulta/prod/"

func main() {
	validate := validator.New()
	registerValidators(validate)

	// Loads env vars depending on environment
	if os.Getenv("GO_ENV") == "production" {
		loadProdEnv() // AWS SSM Parameter Store
	} else {
		// Loads from .env; fine to run without one
		if err := godotenv.Load(); err != nil {
			log.Warnf("no .env file loaded: %v", err)
		}
	}

	cfg := appconfig.Load()

	db, err := sqlite.Init(cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}

	// Getting repos
	queryRepo := repository.NewQueryRepository(db)
	companyRepo := repository.NewCompanyRepository(db)

	// Rate limiter + provider clients for every enabled provider
	limiter := ratelimit.NewAdaptiveRateLimiter(ratelimit.Options{
		SafetyFactorLow:  cfg.SafetyFactorLow,
		SafetyFactorHigh: cfg.SafetyFactorHigh,
		SafetyThreshold:  cfg.SafetyThreshold,
		CooldownBase:     cfg.CooldownBase,
		CooldownMax:      cfg.CooldownMax,
	})

	var clients []provider.Client
	for _, pc := range cfg.EnabledProviders() {
		client := newProviderClient(pc.Name, cfg.HTTPTimeout)
		if client == nil {
			log.Warnf("unknown provider %q in configuration, skipping", pc.Name)
			continue
		}
		limiter.Register(pc.Name, pc.LimitPerMinute)
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		log.Fatal("no providers enabled, refusing to start")
	}

	rt := router.New(limiter, clients, cfg.PerRequestWait)

	q := queue.New(queryRepo, rt, queue.Config{
		MaxConcurrent:       cfg.MaxConcurrent,
		MaxRetries:          cfg.MaxRetries,
		MinInterval:         limiter.MinInterval(),
		TotalLimitPerMinute: limiter.TotalCapacity(),
		RefillInterval:      cfg.RefillInterval,
		ReaperInterval:      cfg.ReaperInterval,
		StuckThreshold:      cfg.StuckThreshold,
	})

	supervisor := service.NewSupervisor(q, queryRepo, companyRepo, limiter, validate, cfg.AutoRestartQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor.Start(ctx)

	// Getting handler
	cnpjRoutes := handler.NewCNPJDefault(supervisor)

	e := echo.New()
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("2M"))

	// CNPJ enrichment
	e.POST("/api/upload-cnpjs/", cnpjRoutes.UploadCNPJs)
	e.GET("/api/status/", cnpjRoutes.GetStatus)
	e.GET("/api/cnpj/:cnpj", cnpjRoutes.GetCompany)
	e.POST("/api/restart-queue/", cnpjRoutes.RestartQueue)
	e.POST("/api/clean-duplicates/", cnpjRoutes.CleanDuplicates)
	e.GET("/api/api-status/", cnpjRoutes.GetAPIStatus)

	// Docker Compose healthcheck
	e.GET("/health", healthCheckRoute)

	go func() {
		if err := e.Start(cfg.BindAddress); err != nil {
			log.Warnf("http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown failed: %v", err)
	}
	supervisor.Stop()
}

func newProviderClient(name string, timeout time.Duration) provider.Client {
	switch name {
	case appconfig.ProviderReceitaWS:
		return receitaws.NewClient(timeout)
	case appconfig.ProviderCNPJWS:
		return cnpjws.NewClient(timeout)
	case appconfig.ProviderCNPJaOpen:
		return cnpjaopen.NewClient(timeout)
	}
	return nil
}

func registerValidators(validate *validator.Validate) {
	_ = validate.RegisterValidation("cnpj", validators.CNPJ)
}

func loadProdEnv() {
	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-2"))
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	client := ssm.NewFromConfig(cfg)
	out, err := client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           aws.String(envVarsPrefix),
		WithDecryption: aws.Bool(true),
		Recursive:      aws.Bool(true),
	})
	if err != nil {
		log.Fatalf("unable to load prod environment, %v", err)
	}

	prefixLength := len(envVarsPrefix)
	// Export vars
	for _, param := range out.Parameters {
		key := (*param.Name)[prefixLength:]
		if enverr := os.Setenv(key, *param.Value); enverr != nil {
			log.Fatalf("unable to set environment variable, %v", enverr)
		}
	}
	log.Debugf("loaded %d prod environment variables", len(out.Parameters))
}

func healthCheckRoute(c echo.Context) error {
	return c.String(200, "OK")
}
