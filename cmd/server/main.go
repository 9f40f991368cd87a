package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/teetime-chat/internal/api"
	"github.com/npezzotti/teetime-chat/internal/config"
	"github.com/npezzotti/teetime-chat/internal/database"
	"github.com/npezzotti/teetime-chat/internal/server"
	"github.com/npezzotti/teetime-chat/internal/stats"
	"github.com/redis/go-redis/v9"
)

const (
	statsName       = "teetime-chat"
	redisKeyPrefix  = "teetime:chat:"
	shutdownTimeout = 10 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	logger := log.New(os.Stderr, "[teetime] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if cfg.AutoMigrate {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate: ", err)
		}
	}

	chatCfg := server.Config{
		Permissions: server.NewMemoryPermissionCache(cfg.Chat.PermissionTTL),
		Limiter:     server.NewFixedWindowLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping: ", err)
		}

		logger.Printf("sharing permissions and rate limits through redis at %s", cfg.RedisAddr)
		chatCfg.Permissions = server.NewRedisPermissionCache(rdb, redisKeyPrefix+"perm:", cfg.Chat.PermissionTTL)
		chatCfg.Limiter = server.NewRedisFixedWindowLimiter(rdb, redisKeyPrefix+"rl:", cfg.Chat.RateLimit, cfg.Chat.RateWindow)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, statsName)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, chatCfg)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	// stop stats last, the chat server updates it until it exits
	statsUpdater.Stop()
	logger.Println("shutdown complete")
}
