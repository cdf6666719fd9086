package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/internal/httpapi"
	"github.com/MrEthical07/credgate/loginlog"
	"github.com/MrEthical07/credgate/maintenance"
	"github.com/MrEthical07/credgate/password"
	"github.com/MrEthical07/credgate/revocation"
	"github.com/MrEthical07/credgate/store/pg"
)

type options struct {
	configPath   string
	envFile      string
	logLevel     string
	dev          bool
	migrate      bool
	hashPassword bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("credgated", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (defaults are used when empty)")
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before CREDGATE_* variables are applied")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&opts.dev, "dev", false, "human readable logs and gin debug mode")
	flagSet.BoolVar(&opts.migrate, "migrate", false, "apply the Postgres schema before serving")
	flagSet.BoolVar(&opts.hashPassword, "hash-password", false, "read a password from stdin, print its argon2id hash and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	cfg := credgate.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := credgate.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	if opts.hashPassword {
		return hashFromStdin(cfg.Password)
	}

	log, err := newLogger(opts.logLevel, opts.dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, opts, log)
}

func serve(ctx context.Context, cfg credgate.Config, opts options, log *zap.Logger) error {
	// -------- REDIS --------
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	// -------- POSTGRES --------
	if cfg.Database.DSN == "" {
		return errors.New("database dsn required (CREDGATE_DATABASE_DSN)")
	}
	store, err := pg.Open(cfg.Database.DSN, cfg.Database.MaxConnections, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()
	if opts.migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("postgres schema applied")
	}

	// -------- SQLITE --------
	// LoginLogPath "-" streams login log entries to stdout as JSON lines instead.
	var (
		local    *gorm.DB
		loginLog loginlog.Writer
		purger   maintenance.Purger
	)
	if cfg.Database.LoginLogPath == "-" {
		loginLog = loginlog.NewJSONWriter(os.Stdout)
	} else {
		local, err = gorm.Open(sqlite.Open(cfg.Database.LoginLogPath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Database.LoginLogPath, err)
		}
		logStore, err := loginlog.NewStore(local)
		if err != nil {
			return err
		}
		loginLog, purger = logStore, logStore
	}

	// -------- ENGINE --------
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	builder := credgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithRoleSource(store).
		WithRoleMutator(store).
		WithLoginLog(loginLog).
		WithLogger(log.Named("engine")).
		WithRegisterer(reg)
	if cfg.Store.Revocation == "sql" {
		if local == nil {
			return errors.New(`sql revocation store needs a login log database path other than "-"`)
		}
		revocations, err := revocation.NewSQLStore(local, time.Now)
		if err != nil {
			return err
		}
		builder = builder.WithRevocationStore(revocations)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	for _, w := range report.Warnings {
		log.Warn("security posture", zap.String("warning", w))
	}

	// -------- HTTP --------
	router, err := httpapi.NewRouter(httpapi.Options{
		Engine:   engine,
		Config:   cfg.HTTP,
		Logger:   log.Named("http"),
		Gatherer: reg,
		Debug:    opts.dev,
		Ready: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return errors.Join(rdb.Ping(ctx).Err(), store.Ping(ctx))
		},
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Retention.SweepInterval > 0 {
		runner, err := maintenance.New(maintenance.Config{
			Interval:  cfg.Retention.SweepInterval,
			Retention: cfg.Retention.LoginLog,
		}, engine.Revocations(), purger, log.Named("maintenance"))
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var encoder zapcore.Encoder
	if dev {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapLevel))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", "credgated")), nil
}

func hashFromStdin(cfg credgate.PasswordConfig) error {
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := argon.Hash(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
