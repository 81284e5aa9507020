package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/platform/metrics"
	"github.com/tomaslejdung/obscam/pkg/registry"
	"github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/spectate"
)

type appConfig struct {
	FeedToken  string
	RosterTTL  time.Duration
	SendBuffer int
}

// app wires the registry, hub and resolver behind one router.
type app struct {
	registry *registry.Registry
	hub      *signal.Server
	resolver *spectate.Resolver
	metrics  *metrics.Metrics
	router   chi.Router
}

func newApp(cfg appConfig, met *metrics.Metrics, log *slog.Logger) *app {
	a := &app{
		registry: registry.New(),
		metrics:  met,
	}

	// The resolver only emits after feed input, which arrives once the
	// router is serving, so hub is set by then.
	a.resolver = spectate.NewResolver(a.registry, func(t spectate.TargetChanged) {
		a.hub.BroadcastTarget(targetInfo(t))
	}, spectate.Options{RosterTTL: cfg.RosterTTL, Logger: log})

	a.hub = signal.NewServer(a.registry, signal.Options{
		SendBuffer:    cfg.SendBuffer,
		Logger:        log,
		Metrics:       met,
		CurrentTarget: a.currentTarget,
		FeedPlayers:   a.feedPlayers,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/ws", a.hub.HandleWebSocket)
	r.Get("/roster", a.hub.HandleRoster)
	r.Method(http.MethodPost, "/gsi", spectate.NewHandler(a.resolver, cfg.FeedToken, met, log))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetRegisteredSources(a.registry.Count()) }).ServeHTTP(w, r)
	})
	a.router = r
	return a
}

func (a *app) currentTarget() (signal.TargetInfo, bool) {
	t, ok := a.resolver.Current()
	if !ok {
		return signal.TargetInfo{}, false
	}
	return targetInfo(t), true
}

func (a *app) feedPlayers() []signal.FeedPlayer {
	players := a.resolver.Players()
	out := make([]signal.FeedPlayer, 0, len(players))
	for _, p := range players {
		out = append(out, signal.FeedPlayer{
			ExternalID:   p.ExternalID,
			DisplayName:  p.DisplayName,
			IsRegistered: p.IsRegistered,
		})
	}
	return out
}

func (a *app) Close() {
	a.resolver.Close()
}

func targetInfo(t spectate.TargetChanged) signal.TargetInfo {
	return signal.TargetInfo{
		ExternalID:  t.ExternalID,
		DisplayName: t.DisplayName,
		EndpointID:  t.EndpointID,
		Visible:     t.Visible,
	}
}
