package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/pawnledger/pkg/config"
	"github.com/mcclellann/pawnledger/pkg/contract"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/ledger"
	"github.com/mcclellann/pawnledger/pkg/logger"
	"github.com/mcclellann/pawnledger/pkg/store"
	"github.com/mcclellann/pawnledger/pkg/timeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "pawnledger"

// Server holds the services behind the HTTP API.
type Server struct {
	ledger    *ledger.Ledger
	contracts *contract.Finalizer
	timeline  *timeline.Service
	storage   store.Storage
	logger    *zap.Logger
	loc       *time.Location
	checks    map[string]func(context.Context) error
}

func NewServer(s store.Storage, cfg *config.Config, log *zap.Logger, pub events.Publisher, loc *time.Location) *Server {
	l := ledger.NewLedger(s, log, ledger.WithLocation(loc), ledger.WithPublisher(pub))
	company := contract.Company{
		Name:    cfg.Company.Name,
		Address: cfg.Company.Address,
		License: cfg.Company.License,
		Phone:   cfg.Company.Phone,
	}
	srv := &Server{
		ledger:    l,
		contracts: contract.NewFinalizer(s, l, log, cfg.ContractPrefix, company, contract.WithLocation(loc), contract.WithPublisher(pub)),
		timeline:  timeline.NewService(s, log),
		storage:   s,
		logger:    log,
		loc:       loc,
		checks:    map[string]func(context.Context) error{"database": s.Ping},
	}
	if p, ok := pub.(interface{ Ping(context.Context) error }); ok {
		srv.checks["events"] = p.Ping
	}
	return srv
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(recoverPanics(s.logger), observe(s.logger))

	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.HandleFunc("/ready", s.readyHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(requireActor)

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	api.HandleFunc("/loans/{id}/payments", s.recordLoanPaymentHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/decisions", s.recordDecisionHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/decisions", s.listDecisionsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/auction", s.createAuctionHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/contract/preview", s.previewContractHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/contract", s.finalizeContractHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/timeline", s.timelineHandler).Methods("GET")

	api.HandleFunc("/payments/{id}/reverse", s.reversePaymentHandler).Methods("POST")

	api.HandleFunc("/auctions", s.listAuctionsHandler).Methods("GET")
	api.HandleFunc("/auctions/{id}/close", s.closeAuctionHandler).Methods("POST")
	api.HandleFunc("/auctions/{id}/settlement", s.settleAuctionHandler).Methods("POST")

	api.HandleFunc("/contracts/{id}", s.getContractHandler).Methods("GET")
	api.HandleFunc("/contracts/{id}/void", s.voidContractHandler).Methods("POST")

	api.HandleFunc("/ledger/payments", s.recordLedgerPaymentHandler).Methods("POST")
	api.HandleFunc("/ledger/entries", s.listEntriesHandler).Methods("GET")
	api.HandleFunc("/ledger/entries", s.postEntryHandler).Methods("POST")
	api.HandleFunc("/ledger/entries/{id}/reverse", s.reverseEntryHandler).Methods("POST")
	api.HandleFunc("/ledger/balance", s.balanceHandler).Methods("GET")
	api.HandleFunc("/ledger/reconcile", s.reconcileHandler).Methods("GET")

	return router
}

func newPublisher(cfg *config.Config, log *zap.Logger) events.Publisher {
	if cfg.RedisURL == "" {
		return events.NewLogPublisher(log)
	}
	return events.NewRedisPublisher(cfg.RedisURL, cfg.EventsChannel)
}

func main() {
	cfg := config.Load()

	log, err := logger.ForEnvironment(serviceName, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer db.Close()

	pub := newPublisher(cfg, log)
	if rp, ok := pub.(*events.RedisPublisher); ok {
		defer rp.Close()
	}

	server := NewServer(db, cfg, log, pub, loc)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("driver", cfg.DBDriver),
			zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}
