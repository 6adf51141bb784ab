// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridecore/internal/auth"
	"ridecore/internal/config"
	httptransport "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/logging"
	"ridecore/internal/maps"
	"ridecore/internal/metrics"
	"ridecore/internal/modules/discovery"
	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/session"
	"ridecore/internal/modules/verification"
	"ridecore/internal/notify"
	"ridecore/internal/ws"
)

// Sessions that never resolve get reaped after this long.
const staleSessionAge = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when a DSN is configured, in-memory for dev runs.
	var (
		pricingStore pricing.Store
		sessionStore session.Store
		guestStore   guest.Store
		offerStore   discovery.Store
	)
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Error("db init failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pricingStore = pricing.NewPostgresStore(pool)
		sessionStore = session.NewPostgresStore(pool)
		guestStore = guest.NewPostgresStore(pool)
		offerStore = discovery.NewPostgresStore(pool)
	} else {
		log.Warn("no RIDECORE_DB_DSN set, using in-memory stores")
		sessionMem := session.NewMemoryStore()
		pricingStore = pricing.NewMemoryStore()
		sessionStore = sessionMem
		guestStore = guest.NewMemoryStore(sessionMem)
		offerStore = discovery.NewMemoryStore()
	}

	hub := ws.NewHub(log)
	notifier := notify.Fanout{hub}
	var pool discovery.Pool = discovery.NewMemoryPool()
	if cfg.Redis.Addr != "" {
		rdb := infra.NewRedis(cfg.Redis.Addr)
		defer rdb.Close()
		pool = discovery.NewRedisPool(rdb)
		notifier = append(notifier, notify.NewRedisNotifier(rdb, cfg.Discovery.NotifyChannel))
	} else {
		log.Warn("no RIDECORE_REDIS_ADDR set, using in-memory driver pool")
		notifier = append(notifier, notify.LogNotifier{Log: log})
	}

	var labeler maps.Labeler
	if cfg.Maps.APIKey != "" {
		mapsClient, err := infra.NewMaps(cfg.Maps.APIKey)
		if err != nil {
			log.Error("maps init failed", "err", err)
			os.Exit(1)
		}
		labeler = maps.NewGeocodeService(mapsClient)
	}

	pricingSvc := pricing.NewService(pricingStore)
	guestSvc := guest.NewService(guestStore, cfg.Guest.TTL, log)
	sessionSvc := session.NewService(sessionStore, notifier, log)
	discoverySvc := discovery.NewService(offerStore, pool, sessionSvc, notifier, cfg.Discovery, log)
	sessionSvc.SetOfferCloser(discoverySvc)
	verificationSvc := verification.NewService(cfg.Verification.Secret, cfg.Verification.TTL)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Pricing:      pricingSvc,
		Guest:        guestSvc,
		Sessions:     sessionSvc,
		Discovery:    discoverySvc,
		Verification: verificationSvc,
		Hub:          hub,
		Verifier:     auth.NewHMACVerifier(cfg.Auth.JWTSecret),
		Labeler:      labeler,
		Log:          log,
	})

	go runStaleReaper(ctx, sessionSvc, log)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func runStaleReaper(ctx context.Context, sessions *session.Service, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.ExpireStale(ctx, staleSessionAge)
			if err != nil {
				log.Warn("stale session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("stale sessions expired", "count", n)
			}
		}
	}
}
