// main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinema-ticketing/cmd"
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/reservation"
	"cinema-ticketing/internal/wire"
	"cinema-ticketing/pkg/database"
	"cinema-ticketing/pkg/lock"
	"cinema-ticketing/pkg/messaging"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App.LogPath, config.App.Debug)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Held booking store (bolt file)
	heldDB, err := database.InitBolt(config.Held.Path, repository.HeldBookingBucket)
	if err != nil {
		logger.Fatal("Failed to open held booking store", zap.Error(err), zap.String("path", config.Held.Path))
	}
	defer heldDB.Close()

	// Initialize all repositories
	repos := repository.NewRepository(db, heldDB, logger)

	// Per-order lock: redis kalau ada, selain itu in-process
	var locker lock.Locker = lock.NewLocalLocker()
	rdb, err := database.InitRedis(config.Redis)
	switch {
	case err != nil:
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	case rdb != nil:
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "lock:order:", config.Redis.LockTTL, logger)
		logger.Info("Using redis order lock", zap.String("addr", config.Redis.Addr))
	default:
		logger.Warn("REDIS_ADDR not set, order lock is process local")
	}

	// Outcome publisher
	var publisher messaging.Publisher = messaging.NopPublisher{}
	if config.AMQP.URL != "" {
		amqpPublisher := messaging.NewAMQPPublisher(config.AMQP.URL, config.AMQP.Exchange, logger)
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	// Wire all dependencies
	app := wire.Wiring(repos, wire.Deps{
		Reservation: reservation.NewClient(config.BookingAPI, logger),
		Locker:      locker,
		Publisher:   publisher,
	}, config, logger)

	go purgeHeldBookings(ctx, repos.HeldBooking, config.Held, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("port", config.App.Port))

	if err := cmd.APIServer(ctx, app.Router, config.App.Port, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
}

// purgeHeldBookings drops held booking details past their retention.
func purgeHeldBookings(ctx context.Context, repo repository.HeldBookingRepository, config utils.HeldConfig, logger *zap.Logger) {
	ticker := time.NewTicker(config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := repo.PurgeExpired(ctx, config.Retention); err != nil {
				logger.Warn("Held booking purge failed", zap.Error(err))
			}
		}
	}
}
