package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/adwski/studygroup-relay/backend/config"
	"github.com/adwski/studygroup-relay/backend/identity"
	"github.com/adwski/studygroup-relay/backend/membership"
	"github.com/adwski/studygroup-relay/backend/registry"
	httpServer "github.com/adwski/studygroup-relay/backend/server/http"
	websocketServer "github.com/adwski/studygroup-relay/backend/server/websocket"
	"github.com/adwski/studygroup-relay/backend/service"
	"github.com/adwski/studygroup-relay/backend/storage/memory"
	"github.com/adwski/studygroup-relay/backend/storage/sqlite"
	sw "github.com/adwski/studygroup-relay/backend/switch"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Trace().Msg("effective configuration\n" + spew.Sdump(cfg.Redacted()))

	verifier := identity.NewVerifier(cfg.JWTSecret)
	if cfg.PrintToken != "" {
		userID, name, _ := strings.Cut(cfg.PrintToken, ":")
		token, errT := verifier.Issue(userID, name)
		if errT != nil {
			logger.Fatal().Err(errT).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gate, closeGate, err := newGate(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize membership store")
	}
	defer closeGate()

	reg := registry.New(registry.Config{
		Logger:      &logger,
		Gate:        membership.NewDeduplicated(gate, cfg.MembershipTimeout, &logger),
		GateTimeout: cfg.MembershipTimeout,
	})
	svc := service.NewService(service.Config{
		Registry:          reg,
		Relay:             sw.NewSwitch(reg, &logger),
		Verifier:          verifier,
		Logger:            &logger,
		NotifyUnavailable: cfg.NotifyUnavailable,
		EventsPerSecond:   rate.Limit(cfg.EventsPerSecond),
		EventsBurst:       cfg.EventsBurst,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Rooms:      reg,
		ListenAddr: cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:            &logger,
		SessionService:    svc,
		ListenAddr:        cfg.WSListenAddr,
		ConnectsPerSecond: rate.Limit(cfg.ConnectsPerSecond),
	})

	var (
		wg     = &sync.WaitGroup{}
		loopWg = &sync.WaitGroup{}
		errc   = make(chan error, 2)
	)
	// the event loop outlives the servers so disconnects during shutdown are still handled
	loopCtx, loopCancel := context.WithCancel(context.Background())
	loopWg.Add(1)
	go svc.Run(loopCtx, loopWg)

	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
	loopCancel()
	loopWg.Wait()
}

func newGate(ctx context.Context, cfg *config.Config) (membership.Gate, func(), error) {
	switch cfg.MembershipStore {
	case config.StoreMemory:
		store := memory.NewMemStore()
		for _, seed := range cfg.Seeds {
			store.AddMember(seed.GroupID, seed.UserID)
		}
		return store, func() {}, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		for _, seed := range cfg.Seeds {
			if err = store.SeedMember(ctx, seed.GroupID, seed.UserID); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, config.ErrUnknownStore
	}
}
