package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"equityrunner/src/auth"
	"equityrunner/src/handler"
	"equityrunner/src/security"
	"equityrunner/src/wallet"
)

// NewRouter builds the control API: a public healthcheck plus the
// token-guarded wallet routes.
func NewRouter(ledger *wallet.Ledger) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck error")
		}
	})

	sec := security.GetConfig()
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(sec.ControlTokenHash))

		r.Get("/wallet", handler.WalletMetricsHandler(ledger))
		r.Post("/wallet/expected-amount/{amount}", handler.SetExpectedAmountHandler(ledger))
		r.Post("/wallet/accumulated-amount/{amount}", handler.SetAccumulatedAmountHandler(ledger))
	})

	return r
}

// StartServer runs the control API until SIGINT or SIGTERM.
func StartServer(port string, ledger *wallet.Ledger) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(ledger),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
