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

	"go.uber.org/zap"

	"github.com/bryanwahyu/skinscan/internal/application"
	appexplain "github.com/bryanwahyu/skinscan/internal/application/explain"
	appreports "github.com/bryanwahyu/skinscan/internal/application/reports"
	"github.com/bryanwahyu/skinscan/internal/classifier"
	"github.com/bryanwahyu/skinscan/internal/config"
	"github.com/bryanwahyu/skinscan/internal/domain/ai"
	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	"github.com/bryanwahyu/skinscan/internal/domain/failures"
	"github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/ai/openai"
	rediscache "github.com/bryanwahyu/skinscan/internal/infra/cache/redis"
	"github.com/bryanwahyu/skinscan/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/skinscan/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/skinscan/internal/infra/db/postgres"
	"github.com/bryanwahyu/skinscan/internal/infra/httpserver"
	"github.com/bryanwahyu/skinscan/internal/infra/inference/onnx"
	"github.com/bryanwahyu/skinscan/internal/infra/storage"
	"github.com/bryanwahyu/skinscan/internal/logger"
	"github.com/bryanwahyu/skinscan/internal/middleware"
)

// imageBackend is what the service needs from an image store.
type imageBackend interface {
	reports.ImageStore
	classifier.ImageSource
	Check(ctx context.Context) error
}

func main() {
	// load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Get().Fatal("config load error", zap.Error(err))
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Get().Fatal("logger init error", zap.Error(err))
	}
	defer logger.Sync()
	log := logger.Get()

	ctx := context.Background()
	health := map[string]middleware.HealthChecker{}

	// persistence
	repo, failureRepo, db := openStores(ctx, cfg, log)
	if db != nil {
		defer db.Close()
		health["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// optional redis read-through cache
	if cfg.Redis.Addr != "" {
		client, err := rediscache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("redis connect error", zap.Error(err))
		}
		defer client.Close()
		repo = rediscache.NewReportCache(repo, client, cfg.Redis.TTL, log)
		health["redis"] = middleware.CheckFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}

	// images
	var images imageBackend
	if cfg.Minio.Endpoint != "" {
		images, err = storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
	} else {
		images, err = storage.NewDirStore(cfg.Images.Dir)
	}
	if err != nil {
		log.Fatal("image store init error", zap.Error(err))
	}
	health["images"] = images

	// model
	spec, err := classifier.LoadTensorSpec(cfg.Model.MetadataPath)
	if err != nil {
		log.Fatal("model metadata error", zap.Error(err))
	}
	classes, err := spec.CancerTypes()
	if err != nil {
		log.Fatal("model classes error", zap.Error(err))
	}
	backend, err := onnx.Open(cfg.Model.Path, cfg.Model.LibraryPath, spec)
	if err != nil {
		log.Fatal("onnx session error", zap.Error(err))
	}
	engine, err := classifier.NewEngine(backend, classes, classifier.EngineOptions{
		RejectWhenBusy: cfg.Model.RejectWhenBusy,
		Logits:         spec.OutputActivation == "logits",
		Logger:         log,
	})
	if err != nil {
		backend.Close()
		log.Fatal("engine init error", zap.Error(err))
	}

	prepCfg := classifier.DefaultPreprocessConfig()
	if cfg.Preprocess.MaxBytes > 0 {
		prepCfg.MaxBytes = cfg.Preprocess.MaxBytes
	}
	if cfg.Preprocess.MinSide > 0 {
		prepCfg.MinSide = cfg.Preprocess.MinSide
	}
	if cfg.Preprocess.MaxPixels > 0 {
		prepCfg.MaxPixels = cfg.Preprocess.MaxPixels
	}
	if len(cfg.Preprocess.Formats) > 0 {
		prepCfg.Formats = cfg.Preprocess.Formats
	}

	metrics := middleware.NewMetrics()
	strat := diagnosis.NewStratifier(cfg.Risk.LowConfidenceThreshold)
	pipeline := classifier.NewPipeline(
		images,
		classifier.NewPreprocessor(spec, prepCfg),
		engine,
		strat,
		classifier.PipelineConfig{
			Workers:   cfg.Model.Workers,
			QueueSize: cfg.Model.QueueSize,
			Timeout:   cfg.Model.Timeout,
		},
		log,
	)
	pipeline.Observe(metrics.ObserveAnalysis)
	modelCheck := middleware.CheckFunc(func(context.Context) error {
		if engine.Closed() {
			return diagnosis.ErrClosed
		}
		return nil
	})
	health["model"] = modelCheck

	// init service
	svc := &appreports.Service{
		Repo:       repo,
		Classifier: pipeline,
		Stratifier: strat,
		Images:     images,
		FailureLog: failureRepo,
		Clock:      application.SystemClock{},
		Log:        log.With(zap.String("component", "reports")),
	}

	var explainer ai.Explainer
	if cfg.OpenAI.APIKey != "" {
		explainer = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	}
	explainSvc := appexplain.NewService(explainer, svc)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	defer limiter.Stop()

	handler := httpserver.NewRouter(svc, explainSvc, httpserver.Options{
		Log:            log,
		Metrics:        metrics,
		RateLimiter:    limiter,
		APIKeys:        cfg.Auth.APIKeys,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Health:         health,
		Ready:          modelCheck,
		MaxUploadBytes: prepCfg.MaxBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	// drain queued analyses, then release the model
	if err := pipeline.Close(ctx2); err != nil {
		log.Error("pipeline close error", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (reports.Repository, failures.Repository, *sql.DB) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatal("mysql connect error", zap.Error(err))
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				log.Fatal("mysql migrate error", zap.Error(err))
			}
		}
		return mysqlp.NewReportRepository(db), mysqlp.NewFailureRepository(db), db
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatal("postgres connect error", zap.Error(err))
		}
		if cfg.Database.Migrate {
			if err := postgresp.Migrate(ctx, db); err != nil {
				log.Fatal("postgres migrate error", zap.Error(err))
			}
		}
		return postgresp.NewReportRepository(db), postgresp.NewFailureRepository(db), db
	default:
		log.Warn("using in-memory store; reports are lost on restart")
		return memory.NewReportRepository(), memory.NewFailureRepository(), nil
	}
}
