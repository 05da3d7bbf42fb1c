package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dennisdiepolder/monti/contactcore/internal/aggregator"
	"github.com/dennisdiepolder/monti/contactcore/internal/api"
	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/callqueue"
	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/condition"
	"github.com/dennisdiepolder/monti/contactcore/internal/config"
	"github.com/dennisdiepolder/monti/contactcore/internal/customer"
	"github.com/dennisdiepolder/monti/contactcore/internal/dialer"
	"github.com/dennisdiepolder/monti/contactcore/internal/event"
	"github.com/dennisdiepolder/monti/contactcore/internal/events"
	"github.com/dennisdiepolder/monti/contactcore/internal/inbound"
	"github.com/dennisdiepolder/monti/contactcore/internal/ingestion"
	"github.com/dennisdiepolder/monti/contactcore/internal/ivr"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/priority"
	"github.com/dennisdiepolder/monti/contactcore/internal/routing"
	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/storage"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
	"github.com/dennisdiepolder/monti/contactcore/internal/ticker"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
	"github.com/dennisdiepolder/monti/contactcore/internal/websocket"
	"github.com/dennisdiepolder/monti/contactcore/pkg/middleware"
)

// handlers groups everything the router mounts
type handlers struct {
	queue    *callqueue.Handler
	inbound  *api.InboundHandler
	roster   *api.RosterHandler
	events   *event.Receiver
	agentWS  http.Handler
	actions  *api.AgentActionsHandler
	history  *api.HistoryHandler
	admin    *api.AdminHandler
	campaign *api.CampaignHandler
	metrics  http.Handler
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}
	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting contactcore server")

	clk := clock.Real{}

	store, retrying, err := storage.Open(ctx, storage.LoadConfig(), log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer store.Close()

	cal, err := clock.NewBusinessCalendar(clock.CalendarConfig{
		Timezone:   cfg.BusinessTimezone,
		Start:      cfg.BusinessStart,
		End:        cfg.BusinessEnd,
		HolidaySet: cfg.HolidaySet,
	})
	if err != nil {
		log.Error().Err(err).Msg("invalid business hours")
		return err
	}
	loc, err := clock.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		log.Error().Err(err).Msg("invalid business timezone")
		return err
	}

	// Rules and reference data
	ruleStore := rules.NewStore(log.Logger)
	customers := customer.NewStaticDirectory(nil)
	loader := rules.NewLoader(cfg.RulesetPath, store, ruleStore, log.Logger)

	// Agents and routing
	pool := cache.NewAgentPool(clk, cfg.AgentStaleAfter)
	eventCache := cache.NewEventCache()
	conditions := condition.NewEvaluator(clk, cal, loc, log.Logger)
	router := routing.NewEvaluator(ruleStore, pool, conditions, log.Logger)
	mgr := callqueue.NewManager(ruleStore, pool, router, priority.NewBooster(conditions), clk, log.Logger)
	mgr.SetStore(store)
	mgr.SetFallbackAfter(cfg.FallbackAfter)
	mgr.SetCustomerLookup(customers)

	// Telephony, IVR and the inbound call path
	tel := telephony.NewSimulator(telephony.DefaultSimConfig(), log.Logger)
	nav := ivr.NewNavigator(ruleStore, ivr.KeywordMatcher{}, tel, log.Logger)
	flow := inbound.NewFlow(nav, mgr, tel, cfg.DefaultMenu, log.Logger)
	mgr.SetOverflowSink(flow)

	// Outbound
	dcfg := dialer.DefaultConfig()
	dcfg.DialRate = cfg.DialRate
	dcfg.DefaultMaxLines = cfg.DialMaxLines
	dcfg.CallbackCampaign = cfg.CallbackCampaign
	sched := dialer.NewScheduler(pool, tel, clk, dcfg, log.Logger)
	sched.SetStore(store)
	flow.SetCallbackScheduler(sched)

	// Agent desktops
	processor := ingestion.NewDefaultProcessor(pool, eventCache, log.Logger)
	processor.SetInteractionCompleter(mgr)
	processor.SetOutboundHandler(sched)
	processor.SetSkillSource(ruleStore)
	hub := websocket.NewAgentHub(pool, processor, log.Logger)
	sched.SetAgentSender(hub)

	// Events
	var pub events.Publisher = events.NoopPublisher{}
	if cfg.MQTTBroker != "" {
		mqttPub, err := events.NewMQTTPublisher(events.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      1,
		})
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("failed to connect to MQTT broker")
			return err
		}
		pub = mqttPub
	}
	defer pub.Close()
	emitter := events.NewEmitter(pub, cfg.MQTTPrefix+"/", log.Logger)
	mgr.SetEventEmitter(events.Fanout{emitter, flow})
	sched.SetEventEmitter(emitter)

	loader.OnLoad(func(set *rules.Set) {
		customers.Replace(set.Customers)
		mgr.SyncQueues()
		seedCampaigns(ctx, sched, set, log.Logger)
	})

	// Restore persisted state before the loader seeds campaigns from the file
	if n, err := sched.Restore(ctx, store); err != nil {
		log.Warn().Err(err).Msg("failed to restore campaigns")
	} else if n > 0 {
		log.Info().Int("campaigns", n).Msg("campaigns restored")
	}
	if _, err := loader.Load(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load ruleset")
		return err
	}
	if n, err := mgr.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore queued interactions")
	} else if n > 0 {
		log.Info().Int("interactions", n).Msg("queued interactions restored")
	}

	agg := aggregator.NewAggregator(pool, mgr, eventCache, emitter, aggregator.DefaultConfig(), log.Logger)
	routingLoop := callqueue.NewRoutingLoop(mgr, hub, clk, cfg.RoutingInterval, cfg.PriorityInterval, log.Logger)
	snapshots := ticker.NewTicker("snapshot", cfg.SnapshotInterval, agg.Cycle, log.Logger)

	g, gctx := errgroup.WithContext(ctx)

	h := handlers{
		queue:    callqueue.NewHandler(mgr, log.Logger),
		inbound:  api.NewInboundHandler(flow, gctx, log.Logger),
		roster:   api.NewRosterHandler(pool, ruleStore, log.Logger),
		events:   event.NewReceiver(processor, log.Logger),
		agentWS:  websocket.NewAgentHandler(hub, log.Logger),
		actions:  api.NewAgentActionsHandler(hub, mgr, pool, sched, log.Logger),
		history:  api.NewHistoryHandler(store, clk, log.Logger),
		admin:    api.NewAdminHandler(loader, agg, store, mgr, log.Logger),
		campaign: api.NewCampaignHandler(sched, log.Logger),
		metrics:  metrics.Get().Handler(),
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error { retrying.Run(gctx); return nil })
	g.Go(func() error { emitter.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { routingLoop.Start(gctx); return nil })
	g.Go(func() error { snapshots.Start(gctx); return nil })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// newRouter mounts every route behind the shared middleware stack
func newRouter(cfg *config.Config, h handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	// Internal routes for collaborating services
	r.Route("/internal", func(r chi.Router) {
		r.Post("/interactions", h.queue.HandleEnqueue)
		r.Post("/interactions/{id}/abandon", h.queue.HandleAbandon)
		r.Post("/calls/inbound", h.inbound.HandleInbound)
		r.Get("/queues/stats", h.queue.HandleStats)
		r.Delete("/queues/all", h.queue.HandleWipeAll)
		r.Post("/agents/roster", h.roster.HandleRoster)
		r.Post("/agent-event", h.events.HandleEvent)
		r.Get("/agent-event/stats", h.events.GetStats)
	})

	r.Get("/agent/ws", h.agentWS.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/agents/{agentId}/interactions/{id}/end", h.actions.EndInteraction)
		r.Post("/agents/{agentId}/logout", h.actions.Logout)
		r.Get("/agents/{agentId}/interactions", h.history.GetAgentInteractions)
		r.Get("/interactions", h.history.GetInteractions)
		r.Get("/unrouted", h.queue.HandleUnrouted)
		r.Post("/rules/reload", h.admin.ReloadRules)
		r.Get("/snapshot", h.admin.GetSnapshot)
		r.Delete("/admin/store", h.admin.ResetStore)
		r.Route("/campaigns", h.campaign.Routes)
	})

	return r
}

// seedCampaigns registers campaigns from the ruleset the dialer does not
// know yet. Restored campaigns keep their stored state and call list.
func seedCampaigns(ctx context.Context, sched *dialer.Scheduler, set *rules.Set, logger zerolog.Logger) {
	added := make(map[string]bool)
	for _, c := range set.Campaigns {
		if _, ok := sched.Campaign(c.ID); ok {
			continue
		}
		if err := sched.AddCampaign(ctx, c); err != nil {
			logger.Warn().Err(err).Str("campaign_id", c.ID).Msg("campaign not seeded")
			continue
		}
		added[c.ID] = true
	}

	byCampaign := make(map[string][]types.CallListItem)
	for _, item := range set.CallList {
		if added[item.CampaignID] {
			byCampaign[item.CampaignID] = append(byCampaign[item.CampaignID], item)
		}
	}
	for id, items := range byCampaign {
		if err := sched.AddItems(ctx, id, items); err != nil {
			logger.Warn().Err(err).Str("campaign_id", id).Msg("call list not seeded")
		}
	}
	if len(added) > 0 {
		logger.Info().Int("campaigns", len(added)).Msg("campaigns seeded from ruleset")
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"contactcore"}`)
}
