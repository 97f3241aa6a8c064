// internal/wire/wire.go
package wire

import (
	"net/http"

	"cinema-ticketing/internal/adaptor"
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/reservation"
	"cinema-ticketing/internal/usecase"
	"cinema-ticketing/pkg/lock"
	"cinema-ticketing/pkg/messaging"
	"cinema-ticketing/pkg/middleware"
	"cinema-ticketing/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// App menyimpan semua dependencies
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Deps are the outbound adapters built in main.
type Deps struct {
	Reservation reservation.Client
	Locker      lock.Locker
	Publisher   messaging.Publisher
}

// Wiring menginisialisasi semua dependencies
func Wiring(repo *repository.Repository, deps Deps, config *utils.Config, logger *zap.Logger) *App {
	// Initialize services dan handlers
	service := usecase.NewService(repo, config, deps.Reservation, deps.Locker, deps.Publisher, logger)
	handler := adaptor.NewHandler(service, config, logger)

	// Setup router
	router := setupRouter(handler, config, logger)

	return &App{
		Router:  router,
		Service: service,
	}
}

// setupRouter konfigurasi Chi router
func setupRouter(handler *adaptor.Handler, config *utils.Config, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestMeta())

	// Apply routes
	wirePayment(r, handler.Payment, handler.Checkout)
	wireAdmin(r, handler.Order, config, logger)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
