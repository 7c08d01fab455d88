package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Hardy0611/shooting-arena/internal/auth"
	"github.com/Hardy0611/shooting-arena/internal/config"
	"github.com/Hardy0611/shooting-arena/internal/db"
	"github.com/Hardy0611/shooting-arena/internal/game"
	"github.com/Hardy0611/shooting-arena/internal/storage"
	"github.com/Hardy0611/shooting-arena/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Shooting Arena - multiplayer arena shooter server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 3000 or PORT env var)

Environment Variables (a .env file in the working directory is loaded first):
  ENVIRONMENT           "development" or "production" (default: development)
  PORT                  Port to listen on (default: 3000)
  JWT_SECRET            Session token secret (required outside development)
  SESSION_TTL           Session lifetime, rolled on /validate (default: 30m)
  ALLOWED_ORIGINS       Comma separated CORS origins (default: any in development)
  DATABASE_URL          Postgres DSN; enables the users table and match archive
  DB_MAX_CONNS          Postgres pool size (default: 10)
  DB_MIN_CONNS          Idle connections kept open (default: 1)
  USERS_FILE            JSON credential file used without a database (default: ./data/users.json)
  EXPORT_ENABLED        Append match results to a text file (default: true)
  EXPORT_FILE           Path of the results file (default: ./arena-results.txt)
  S3_BUCKET_NAME, S3_ENDPOINT, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY
                        Upload match results to S3-compatible storage when all are set
  HIT_ANIMATION_MS      Hit flash duration in milliseconds (default: 400)
  FREEZE_MS             Freeze duration in milliseconds (default: 400)

Examples:
  %s                  Start server with default settings
  %s --port 8080      Start server on port 8080
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Shooting Arena %s\n", version)
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		if _, err := strconv.Atoi(*portFlag); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --port %q\n", *portFlag)
			os.Exit(1)
		}
		cfg.Port = *portFlag
	}

	// zerolog setup: human-friendly console in development, JSON otherwise
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credential store and match archives
	var (
		store   auth.Store
		sinks   []game.ResultSink
		matches *db.MatchStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			DSN:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		defer pool.Close()
		store = auth.NewPostgresStore(pool)
		matches = db.NewMatchStore(pool)
		sinks = append(sinks, matches)
	} else {
		store = auth.NewFileStore(cfg.UsersFile, 0)
		log.Info().Str("file", cfg.UsersFile).Msg("using file credential store")
	}
	if cfg.ExportEnabled {
		sinks = append(sinks, game.NewFileExporter(cfg.ExportFile))
	}
	if cfg.S3Enabled() {
		archive, err := storage.NewS3Archive(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("s3 archive")
		}
		sinks = append(sinks, archive)
	}

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	// Socket server + coordinator
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL)
	sock := ws.New(tokens)
	coord := game.NewCoordinator(sock, game.Options{
		HitAnimationDelay: cfg.HitAnimationDelay,
		FreezeDuration:    cfg.FreezeDuration,
		Sinks:             sinks,
	})
	sock.SetCoordinator(coord)
	coordDone := make(chan struct{})
	go func() {
		coord.Run()
		close(coordDone)
	}()
	io := sock.Mount(r)

	// Auth routes, rate limited per IP
	limiter := auth.NewIPRateLimiter(rate.Every(time.Second), 5)
	go limiter.Cleanup(3*time.Minute, ctx.Done())
	(&auth.Handler{Store: store, Tokens: tokens, Secure: !cfg.IsDevelopment()}).Register(r, limiter.Middleware())

	r.GET("/api/arena", func(c *gin.Context) {
		st, err := coord.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})
	if matches != nil {
		r.GET("/api/players/:username/matches", func(c *gin.Context) {
			rows, err := matches.RecentStandings(c.Request.Context(), c.Param("username"), 20)
			if err != nil {
				log.Error().Err(err).Msg("recent standings")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"matches": rows})
		})
	}

	corsOpts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	if len(corsOpts.AllowedOrigins) == 0 && cfg.IsDevelopment() {
		corsOpts.AllowOriginFunc = func(string) bool { return true }
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           cors.New(corsOpts).Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Int("sinks", len(sinks)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	_ = io.Close()
	coord.Stop()
	<-coordDone // pending match archives
	sock.Close()
}
