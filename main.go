package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	cfg "github.com/example/curbside/internal/config"
	"github.com/example/curbside/internal/metrics"
)

var jwtSecret []byte

type App struct {
	DB          DB
	orders      *OrderService
	sweeper     *Sweeper
	gate        *AdmissionGate
	adminSecret string
	cronSecret  string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// routes builds the full router. Split out of main so handler tests can
// drive the real routing table.
func (a *App) routes(c *cfg.Config) *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	// Health and observability endpoints, outside the gate
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Checkout: the most sensitive endpoint gets the tightest guard.
	v1.HandleFunc("/checkout", a.gate.Protect(RouteGuard{
		RouteKey:          "checkout",
		RateMax:           c.CheckoutRateMax,
		RateWindow:        c.CheckoutRateWin,
		RequireJSON:       true,
		RequireOrigin:     true,
		UseIdempotencyKey: true,
	}, a.HandleCheckout)).Methods("POST")

	v1.HandleFunc("/orders/{id}", a.gate.Protect(RouteGuard{
		RouteKey:   "orders_read",
		RateMax:    c.OrdersRateMax,
		RateWindow: c.OrdersRateWin,
	}, a.HandleGetOrder)).Methods("GET")

	// Café actions: gate first, then API-key auth.
	actions := v1.PathPrefix("/orders/{id}").Subrouter()
	actions.Use(a.gate.Middleware(RouteGuard{
		RouteKey:   "orders_write",
		RateMax:    c.OrdersRateMax,
		RateWindow: c.OrdersRateWin,
	}))
	actions.Use(a.CafeAuth)
	actions.HandleFunc("/accept", a.orderAction(StatusAccepted)).Methods("POST")
	actions.HandleFunc("/preparing", a.orderAction(StatusPreparing)).Methods("POST")
	actions.HandleFunc("/ready", a.orderAction(StatusReady)).Methods("POST")
	actions.HandleFunc("/complete", a.orderAction(StatusCompleted)).Methods("POST")
	actions.HandleFunc("/reject", a.orderAction(StatusRejected)).Methods("POST")

	// Admin: gate first, then the independent admin check on top.
	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(a.gate.Middleware(RouteGuard{
		RouteKey:   "admin",
		RateMax:    c.AdminRateMax,
		RateWindow: c.AdminRateWin,
	}))
	admin.Use(a.AdminAuth)
	admin.HandleFunc("/session", a.HandleCreateAdminSession).Methods("POST")
	admin.HandleFunc("/cafes", a.HandleCreateCafe).Methods("POST")
	admin.HandleFunc("/security-events", a.HandleListSecurityEvents).Methods("GET")

	// Cron trigger authenticates with its own secret; the classifier would
	// block a curl-driven cron, so it bypasses the gate.
	v1.HandleFunc("/cron/sweep", a.HandleSweep).Methods("GET")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	jwtSecret = []byte(c.JwtSecret)
	metrics.Register()

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}
		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Printf("migrations warning: %v", err)
		}
		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	var processor PaymentProcessor
	if c.ProcessorURL != "" {
		processor = NewHTTPProcessor(c.ProcessorURL, c.ProcessorKey)
	} else {
		log.Println("PROCESSOR_URL not set, using in-process fake processor (not for production)")
		processor = NewFakeProcessor()
	}

	signatures := []string(nil)
	if c.SignaturesFile != "" {
		signatures, err = LoadSignatures(c.SignaturesFile)
		if err != nil {
			log.Fatalf("bot signatures: %v", err)
		}
	}

	limiter := NewFixedWindowLimiter(c.RateLimitEntryCap)
	bursts := NewBurstDetector(c.BurstWindow, c.BurstMaxHits)
	idem := NewIdempotencyGuard(c.IdempotencyWindow)
	limiter.StartEviction(time.Minute)
	bursts.StartEviction(time.Minute)
	idem.StartEviction(5 * time.Minute)

	classifier := NewBotClassifier(bursts, signatures)
	gate := NewAdmissionGate(limiter, classifier, idem, c.AllowedOrigins, db)

	orders := NewOrderService(db, processor)
	sweeper := NewSweeper(db, orders, c.HoldTTL)

	app := &App{
		DB:          db,
		orders:      orders,
		sweeper:     sweeper,
		gate:        gate,
		adminSecret: c.AdminSecret,
		cronSecret:  c.CronSecret,
	}

	// Optional in-process sweep; cron hitting /api/v1/cron/sweep covers
	// deployments where this is disabled.
	sweepDone := make(chan struct{})
	if c.SweepInterval > 0 {
		go func() {
			t := time.NewTicker(c.SweepInterval)
			defer t.Stop()
			for {
				select {
				case now := <-t.C:
					sweeper.Sweep(context.Background(), now.UTC())
				case <-sweepDone:
					return
				}
			}
		}()
	}

	srv := &http.Server{Handler: app.routes(c), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting curbside server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(sweepDone)
	limiter.Stop()
	bursts.Stop()
	idem.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
