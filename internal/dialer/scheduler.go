// Package dialer runs outbound campaigns: it selects eligible contacts,
// paces dials against idle agents, connects answered calls and applies the
// retry policy to every attempt.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Event kinds emitted by the Scheduler
const (
	EventDialPlaced     = "dialer.dial_placed"
	EventDialResult     = "dialer.dial_result"
	EventConnected      = "dialer.connected"
	EventWrapUp         = "dialer.wrap_up"
	EventPreview        = "dialer.preview"
	EventCampaignStatus = "dialer.campaign_status"
	EventTransportDown  = "dialer.transport_down"
)

var (
	ErrUnknownCampaign    = errors.New("unknown campaign")
	ErrUnknownItem        = errors.New("unknown call list item")
	ErrNoSession          = errors.New("agent has no session in campaign")
	ErrNoPreview          = errors.New("no contact presented to agent")
	ErrNotConnected       = errors.New("call is not connected to agent")
	ErrNotDialable        = errors.New("contact is not dialable now")
	ErrNoCallbackCampaign = errors.New("no callback campaign configured")
)

const (
	agentPrefix      = "agent/"
	callbackPriority = 100
	persistTimeout   = 5 * time.Second
	maxOutageBackoff = 5 * time.Minute
)

// Store is the subset of storage.Store the Scheduler writes through
type Store interface {
	UpsertCampaign(ctx context.Context, c types.DialerCampaign) error
	UpsertCallListItem(ctx context.Context, item types.CallListItem) error
	UpsertDialerSession(ctx context.Context, s types.DialerSession) error
	AppendCallResult(ctx context.Context, r types.CallResult) error
}

// Loader reads campaigns back at startup
type Loader interface {
	LoadCampaigns(ctx context.Context) ([]types.DialerCampaign, error)
	LoadCallListItems(ctx context.Context, campaignID string) ([]types.CallListItem, error)
}

// AgentPool is the subset of cache.AgentPool the Scheduler reserves through
type AgentPool interface {
	Eligible(token string) []types.AgentInfo
	ReserveLongestIdle(ids []string, token string) string
	ClaimReservation(agentID, token, interactionID string) bool
	CancelReservation(agentID, token string)
	Release(agentID, interactionID string, acw bool) bool
}

// AgentSender delivers messages to a connected agent
type AgentSender interface {
	SendToAgent(agentID string, data []byte) bool
}

// EventEmitter publishes dialer events
type EventEmitter interface {
	Emit(kind string, payload any)
}

// Event is the payload of every dialer event
type Event struct {
	CampaignID  string           `json:"campaignId"`
	ItemID      string           `json:"itemId,omitempty"`
	AgentID     string           `json:"agentId,omitempty"`
	Status      types.CallStatus `json:"status,omitempty"`
	Attempt     int              `json:"attempt,omitempty"`
	Disposition string           `json:"disposition,omitempty"`
	Message     string           `json:"message,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Config tunes the Scheduler
type Config struct {
	TickInterval     time.Duration
	DialRate         float64 // dial placements per second per campaign
	DialBurst        int
	DefaultMaxLines  int
	DialTimeout      time.Duration
	PreviewTimeout   time.Duration
	PacingWindow     int
	OutageBackoff    time.Duration
	SweepSpec        string // robfig/cron spec for the campaign sweep
	CallbackCampaign string // campaign that receives inbound callback requests
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		DialRate:        5,
		DialBurst:       5,
		DefaultMaxLines: 20,
		DialTimeout:     60 * time.Second,
		PreviewTimeout:  2 * time.Minute,
		PacingWindow:    defaultPacingWindow,
		OutageBackoff:   5 * time.Second,
		SweepSpec:       "@every 1m",
	}
}

type preview struct {
	itemID string
	at     time.Time
}

type liveCall struct {
	handle     telephony.CallHandle
	agentID    string
	dialedAt   time.Time
	answeredAt time.Time
}

type runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}
}

type campaign struct {
	cfg      types.DialerCampaign
	items    map[string]*types.CallListItem
	sessions map[string]*types.DialerSession // agentID -> open session
	previews map[string]preview              // agentID -> contact presented
	held     map[string]string               // itemID -> agent it is presented to
	live     map[string]*liveCall            // itemID -> answered call awaiting wrap-up
	results  []types.CallResult
	pacer    *Pacer
	lines    *semaphore.Weighted
	limiter  *rate.Limiter
	ringing  int

	run         *runner
	pausedUntil time.Time
	outages     int
}

// dialPlan is one dial decided under the lock and placed outside it
type dialPlan struct {
	campaignID string
	mode       types.DialerType
	item       types.CallListItem
	agentID    string // reserved agent, empty for predictive dials
	dialedAt   time.Time
	lines      *semaphore.Weighted
	limiter    *rate.Limiter
}

// Scheduler owns every campaign and its call list.
// Lock order is mu, then the agent pool.
type Scheduler struct {
	mu        sync.Mutex
	campaigns map[string]*campaign
	running   context.Context // set while Run is active

	pool   AgentPool
	tel    telephony.Collaborator
	clock  clock.Clock
	cfg    Config
	cron   *cron.Cron
	dials  sync.WaitGroup
	store  Store
	sender AgentSender
	events EventEmitter
	logger zerolog.Logger
}

// NewScheduler creates a Scheduler
func NewScheduler(pool AgentPool, tel telephony.Collaborator, c clock.Clock, cfg Config, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.DialRate <= 0 {
		cfg.DialRate = def.DialRate
	}
	if cfg.DialBurst <= 0 {
		cfg.DialBurst = def.DialBurst
	}
	if cfg.DefaultMaxLines <= 0 {
		cfg.DefaultMaxLines = def.DefaultMaxLines
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = def.PreviewTimeout
	}
	if cfg.OutageBackoff <= 0 {
		cfg.OutageBackoff = def.OutageBackoff
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = def.SweepSpec
	}
	return &Scheduler{
		campaigns: make(map[string]*campaign),
		pool:      pool,
		tel:       tel,
		clock:     c,
		cfg:       cfg,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With().Str("component", "dialer").Logger(),
	}
}

// SetStore sets the persistence store
func (s *Scheduler) SetStore(store Store) {
	s.store = store
}

// SetAgentSender sets how previews and connected calls reach agents
func (s *Scheduler) SetAgentSender(sender AgentSender) {
	s.sender = sender
}

// SetEventEmitter sets where dialer events go
func (s *Scheduler) SetEventEmitter(events EventEmitter) {
	s.events = events
}

func (s *Scheduler) newCampaign(cfg types.DialerCampaign) *campaign {
	maxLines := cfg.MaxLines
	if maxLines <= 0 {
		maxLines = s.cfg.DefaultMaxLines
	}
	return &campaign{
		cfg:      cfg,
		items:    make(map[string]*types.CallListItem),
		sessions: make(map[string]*types.DialerSession),
		previews: make(map[string]preview),
		held:     make(map[string]string),
		live:     make(map[string]*liveCall),
		pacer:    NewPacer(s.cfg.PacingWindow),
		lines:    semaphore.NewWeighted(int64(maxLines)),
		limiter:  rate.NewLimiter(rate.Limit(s.cfg.DialRate), s.cfg.DialBurst),
	}
}

// Restore loads campaigns and call lists from storage. Contacts left in
// dialing by a crash go back to pending without counting an attempt.
func (s *Scheduler) Restore(ctx context.Context, loader Loader) (int, error) {
	campaigns, err := loader.LoadCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("load campaigns: %w", err)
	}
	restored := 0
	for _, cfg := range campaigns {
		if err := ValidateCampaign(&cfg); err != nil {
			s.logger.Warn().Err(err).Str("campaign_id", cfg.ID).Msg("skipping invalid campaign")
			continue
		}
		items, err := loader.LoadCallListItems(ctx, cfg.ID)
		if err != nil {
			return restored, fmt.Errorf("load call list of %s: %w", cfg.ID, err)
		}

		s.mu.Lock()
		c, ok := s.campaigns[cfg.ID]
		if !ok {
			c = s.newCampaign(cfg)
			s.campaigns[cfg.ID] = c
		}
		c.cfg = cfg
		for i := range items {
			item := items[i]
			if item.Status == types.CallDialing {
				item.Status = types.CallPending
				item.DialedAt = nil
				item.AssignedAgent = ""
			}
			c.items[item.ID] = &item
		}
		s.startRunnerLocked(cfg.ID, c)
		s.mu.Unlock()
		restored++
	}
	s.logger.Info().Int("campaigns", restored).Msg("restored campaigns")
	return restored, nil
}

// Run starts a runner per active campaign and the campaign sweep, then
// blocks until ctx is done. In-flight dials are drained before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule campaign sweep: %w", err)
	}

	s.mu.Lock()
	s.running = ctx
	for id, c := range s.campaigns {
		s.startRunnerLocked(id, c)
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Dur("tick", s.cfg.TickInterval).Str("sweep", s.cfg.SweepSpec).Msg("dialer started")

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.running = nil
	var runners []*runner
	for _, c := range s.campaigns {
		if c.run != nil {
			c.run.cancel()
			runners = append(runners, c.run)
			c.run = nil
		}
	}
	s.mu.Unlock()
	for _, r := range runners {
		<-r.done
	}

	s.Drain()
	s.logger.Info().Msg("dialer stopped")
	return nil
}

// Drain waits for every in-flight dial to record its result
func (s *Scheduler) Drain() {
	s.dials.Wait()
}

// startRunnerLocked expects s.mu held
func (s *Scheduler) startRunnerLocked(id string, c *campaign) {
	if s.running == nil || c.run != nil || c.cfg.Status != types.CampaignActive {
		return
	}
	ctx, cancel := context.WithCancel(s.running)
	r := &runner{ctx: ctx, cancel: cancel, kick: make(chan struct{}, 1), done: make(chan struct{})}
	c.run = r
	go s.runCampaign(id, r)
}

// stopRunnerLocked expects s.mu held. The caller waits on the returned
// channel after unlocking.
func (s *Scheduler) stopRunnerLocked(c *campaign) <-chan struct{} {
	if c.run == nil {
		return nil
	}
	r := c.run
	c.run = nil
	r.cancel()
	return r.done
}

func (s *Scheduler) runCampaign(id string, r *runner) {
	defer close(r.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Str("campaign_id", id).Msg("campaign runner started")
	for {
		select {
		case <-r.ctx.Done():
			s.logger.Info().Str("campaign_id", id).Msg("campaign runner stopped")
			return
		case <-ticker.C:
		case <-r.kick:
		}
		s.tick(r.ctx, id)
	}
}

func (s *Scheduler) kickLocked(c *campaign) {
	if c.run == nil {
		return
	}
	select {
	case c.run.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) kick(id string) {
	s.mu.Lock()
	if c, ok := s.campaigns[id]; ok {
		s.kickLocked(c)
	}
	s.mu.Unlock()
}

// Tick runs one scheduling pass for the campaign and returns how many dials
// or previews it started. Dials run in the background; Drain waits for them.
func (s *Scheduler) Tick(ctx context.Context, campaignID string) int {
	return s.tick(ctx, campaignID)
}

func (s *Scheduler) tick(ctx context.Context, id string) int {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[id]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	if open, reason := CampaignOpen(&c.cfg, now); !open {
		s.mu.Unlock()
		s.logger.Debug().Str("campaign_id", id).Str("reason", reason).Msg("campaign not dialing")
		return 0
	}
	if now.Before(c.pausedUntil) {
		s.mu.Unlock()
		return 0
	}

	idle := s.idleAgentsLocked(c)
	candidates := c.eligibleItems(now)
	ratio := 1.0

	var (
		plans    []dialPlan
		previews []types.PreviewContact
		expired  []preview
	)
	switch c.cfg.DialerType {
	case types.DialerPreview:
		expired = s.expirePreviewsLocked(c, now)
		previews = s.presentLocked(c, idle, candidates, now)

	case types.DialerPower:
		for len(idle) > 0 && len(candidates) > 0 {
			if !c.lines.TryAcquire(1) {
				break
			}
			item := candidates[0]
			candidates = candidates[1:]
			agent := s.pool.ReserveLongestIdle(idle, item.ID)
			if agent == "" {
				c.lines.Release(1)
				break
			}
			idle = without(idle, agent)
			plans = append(plans, c.place(item, agent, now))
		}

	case types.DialerPredictive:
		ratio = c.pacer.Adjust(c.cfg.AbandonCeiling())
		lines := int(float64(len(idle))*ratio) - c.ringing
		for i := 0; i < lines && len(candidates) > 0; i++ {
			if !c.lines.TryAcquire(1) {
				break
			}
			plans = append(plans, c.place(candidates[0], "", now))
			candidates = candidates[1:]
		}
	}
	inFlight := c.ringing + len(c.live)
	abandonRate := c.pacer.AbandonRate()
	s.mu.Unlock()

	recordPacing(id, ratio, abandonRate, inFlight)

	for _, p := range expired {
		s.logger.Info().Str("campaign_id", id).Str("item_id", p.itemID).Msg("preview timed out")
	}
	for _, p := range plans {
		s.persistItem(p.item)
		s.dials.Add(1)
		go s.dial(ctx, p)
	}
	for _, pc := range previews {
		s.deliverPreview(pc)
	}
	return len(plans) + len(previews)
}

// idleAgentsLocked lists session agents free to take a new outbound call
func (s *Scheduler) idleAgentsLocked(c *campaign) []string {
	var ids []string
	for _, a := range s.pool.Eligible("") {
		if _, ok := c.sessions[a.AgentID]; !ok {
			continue
		}
		if len(a.ActiveInteractions) > 0 {
			continue
		}
		if _, ok := c.previews[a.AgentID]; ok {
			continue
		}
		ids = append(ids, a.AgentID)
	}
	return ids
}

// eligibleItems returns dialable contacts, best first
func (c *campaign) eligibleItems(now time.Time) []*types.CallListItem {
	var out []*types.CallListItem
	for _, item := range c.items {
		if _, ok := c.held[item.ID]; ok {
			continue
		}
		if ok, _ := ItemEligible(&c.cfg, item, now); ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// place marks item dialing and holds a line. It expects the scheduler lock
// and a line already acquired.
func (c *campaign) place(item *types.CallListItem, agentID string, now time.Time) dialPlan {
	t := now
	item.Status = types.CallDialing
	item.DialedAt = &t
	item.AssignedAgent = agentID
	c.ringing++
	return dialPlan{
		campaignID: c.cfg.ID,
		mode:       c.cfg.DialerType,
		item:       *item,
		agentID:    agentID,
		dialedAt:   now,
		lines:      c.lines,
		limiter:    c.limiter,
	}
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// dial places one call. Waiting for the rate limiter honours ctx so a paused
// campaign stops at once; the call itself runs detached and always records
// its result.
func (s *Scheduler) dial(ctx context.Context, p dialPlan) {
	defer s.dials.Done()
	defer p.lines.Release(1)

	log := s.logger.With().Str("campaign_id", p.campaignID).Str("item_id", p.item.ID).Logger()

	if err := p.limiter.Wait(ctx); err != nil {
		log.Debug().Err(err).Msg("dial withdrawn before placement")
		s.withdraw(p, false)
		return
	}

	recordDial(p.campaignID, p.mode)
	s.emit(EventDialPlaced, Event{CampaignID: p.campaignID, ItemID: p.item.ID, AgentID: p.agentID, Attempt: p.item.Attempts + 1, Timestamp: p.dialedAt})

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DialTimeout)
	res, err := s.tel.PlaceCall(dctx, p.item.PhoneNumber)
	cancel()

	switch {
	case errors.Is(err, telephony.ErrTransportDown):
		log.Warn().Err(err).Msg("telephony transport down, pausing campaign")
		s.withdraw(p, true)
		return
	case err != nil:
		log.Error().Err(err).Msg("dial failed")
		s.finishAttempt(p, types.CallFailed, telephony.CallHandle{})
		return
	case res.Outcome == telephony.OutcomeAnswered:
		s.connect(context.WithoutCancel(ctx), p, res.Handle)
		return
	}
	s.finishAttempt(p, statusFor(res.Outcome), res.Handle)
}

// withdraw returns a contact to pending without counting an attempt. An
// outage also pauses the campaign with exponential backoff.
func (s *Scheduler) withdraw(p dialPlan, outage bool) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[p.campaignID]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.ringing--
	var item types.CallListItem
	if it, ok := c.items[p.item.ID]; ok {
		it.Status = types.CallPending
		it.DialedAt = nil
		it.AssignedAgent = ""
		item = *it
	}
	var backoff time.Duration
	if outage {
		c.outages++
		backoff = s.cfg.OutageBackoff << (c.outages - 1)
		if backoff > maxOutageBackoff || backoff <= 0 {
			backoff = maxOutageBackoff
		}
		c.pausedUntil = now.Add(backoff)
	}
	s.mu.Unlock()

	if p.agentID != "" {
		s.pool.CancelReservation(p.agentID, p.item.ID)
	}
	if item.ID != "" {
		s.persistItem(item)
	}
	if outage {
		s.emit(EventTransportDown, Event{CampaignID: p.campaignID, ItemID: p.item.ID, Message: fmt.Sprintf("paused for %s", backoff), Timestamp: now})
	}
}

// finishAttempt records a dial that did not reach an agent
func (s *Scheduler) finishAttempt(p dialPlan, status types.CallStatus, h telephony.CallHandle) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[p.campaignID]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.ringing--
	c.outages = 0
	item, ok := c.items[p.item.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	item.Attempts++
	attempt := item.Attempts
	applyDisposition(&c.cfg, item, status, now)
	result := types.CallResult{
		ID:             uuid.New().String(),
		CampaignID:     p.campaignID,
		CallListItemID: item.ID,
		AgentID:        p.agentID,
		Attempt:        attempt,
		Disposition:    string(status),
		Duration:       now.Sub(p.dialedAt).Seconds(),
		IsAnswered:     status == types.CallAbandoned,
		DialedAt:       p.dialedAt,
	}
	c.results = append(c.results, result)
	snapshot := *item
	s.kickLocked(c)
	s.mu.Unlock()

	if p.agentID != "" {
		s.pool.CancelReservation(p.agentID, item.ID)
	}
	if status == types.CallAbandoned && h.ID != "" {
		if err := s.tel.Hangup(context.Background(), h); err != nil {
			s.logger.Debug().Err(err).Str("item_id", item.ID).Msg("hangup of abandoned call failed")
		}
	}

	s.persistItem(snapshot)
	s.persistResult(result)
	recordDialResult(p.campaignID, status)
	s.emit(EventDialResult, Event{
		CampaignID:  p.campaignID,
		ItemID:      snapshot.ID,
		AgentID:     p.agentID,
		Status:      snapshot.Status,
		Attempt:     attempt,
		Disposition: string(status),
		Timestamp:   now,
	})
	s.logger.Info().
		Str("campaign_id", p.campaignID).
		Str("item_id", snapshot.ID).
		Str("disposition", string(status)).
		Int("attempt", attempt).
		Str("status", string(snapshot.Status)).
		Msg("dial attempt finished")
}

// connect hands an answered call to its agent. Predictive dials pick the
// longest idle session agent now; with nobody free the call is abandoned.
func (s *Scheduler) connect(ctx context.Context, p dialPlan, h telephony.CallHandle) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[p.campaignID]
	if !ok {
		s.mu.Unlock()
		return
	}
	item, ok := c.items[p.item.ID]
	if !ok {
		s.mu.Unlock()
		return
	}

	agent := p.agentID
	if agent == "" {
		agent = s.pool.ReserveLongestIdle(s.idleAgentsLocked(c), item.ID)
	}
	if agent == "" || !s.pool.ClaimReservation(agent, item.ID, item.ID) {
		c.pacer.Record(true)
		s.mu.Unlock()
		if agent != "" && agent != p.agentID {
			s.pool.CancelReservation(agent, item.ID)
		}
		s.finishAttempt(p, types.CallAbandoned, h)
		return
	}

	c.pacer.Record(false)
	c.ringing--
	c.outages = 0
	item.Attempts++
	item.AssignedAgent = agent
	answered := now
	item.AnsweredAt = &answered
	c.live[item.ID] = &liveCall{handle: h, agentID: agent, dialedAt: p.dialedAt, answeredAt: now}

	var session types.DialerSession
	if sess, ok := c.sessions[agent]; ok {
		sess.CallsAnswered++
		if p.mode != types.DialerPreview {
			sess.CallsPresented++
		}
		session = *sess
	}
	snapshot := *item
	s.mu.Unlock()

	if err := s.tel.Transfer(ctx, h, agentPrefix+agent); err != nil {
		s.logger.Error().Err(err).Str("item_id", item.ID).Str("agent_id", agent).Msg("failed to bridge outbound call")
	}
	s.sendJSON(agent, types.InteractionAssign{
		Type:          types.MsgInteractionAssign,
		AgentID:       agent,
		InteractionID: snapshot.ID,
		Channel:       types.ChannelVoice,
		CustomerRef:   snapshot.CustomerRef,
		CampaignID:    p.campaignID,
		Timestamp:     now,
	})

	s.persistItem(snapshot)
	if session.ID != "" {
		s.persistSession(session)
	}
	s.emit(EventConnected, Event{CampaignID: p.campaignID, ItemID: snapshot.ID, AgentID: agent, Attempt: snapshot.Attempts, Timestamp: now})
	s.logger.Info().Str("campaign_id", p.campaignID).Str("item_id", snapshot.ID).Str("agent_id", agent).Msg("outbound call connected")
}

// WrapUp closes an answered call with the agent's disposition and writes its
// CallResult. A callback request books a follow-up contact.
func (s *Scheduler) WrapUp(ctx context.Context, campaignID, itemID string, w types.WrapUp) (types.CallResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return types.CallResult{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	lc, ok := c.live[itemID]
	if !ok || (w.AgentID != "" && w.AgentID != lc.agentID) {
		s.mu.Unlock()
		return types.CallResult{}, fmt.Errorf("%w: %s", ErrNotConnected, itemID)
	}
	item := c.items[itemID]
	delete(c.live, itemID)

	disposition := w.Disposition
	if disposition == "" {
		disposition = string(types.CallCompleted)
	}
	item.Status = types.CallCompleted
	if w.Callback {
		item.Status = types.CallCallbackScheduled
	}
	item.LastDisposition = disposition
	item.AssignedAgent = ""
	item.NextEligibleAt = nil

	result := types.CallResult{
		ID:             uuid.New().String(),
		CampaignID:     campaignID,
		CallListItemID: itemID,
		AgentID:        lc.agentID,
		Attempt:        item.Attempts,
		Disposition:    disposition,
		SubDisposition: w.SubDisposition,
		Duration:       now.Sub(lc.dialedAt).Seconds(),
		TalkTime:       w.TalkTime,
		IsAnswered:     true,
		IsConverted:    w.Converted,
		AgentNotes:     w.Notes,
		DialedAt:       lc.dialedAt,
	}
	c.results = append(c.results, result)

	var session types.DialerSession
	if sess, ok := c.sessions[lc.agentID]; ok {
		if w.Converted {
			sess.CallsConverted++
		}
		sess.TotalTalkTimeSeconds += w.TalkTime
		session = *sess
	}

	var followUp *types.CallListItem
	if w.Callback {
		next := now.Add(time.Duration(c.cfg.RetryDelayMinutes) * time.Minute)
		followUp = &types.CallListItem{
			ID:             uuid.New().String(),
			CampaignID:     campaignID,
			PhoneNumber:    item.PhoneNumber,
			CustomerRef:    item.CustomerRef,
			Priority:       callbackPriority,
			Status:         types.CallPending,
			NextEligibleAt: &next,
		}
		c.items[followUp.ID] = followUp
	}
	snapshot := *item
	s.kickLocked(c)
	s.mu.Unlock()

	s.pool.Release(lc.agentID, itemID, false)
	if err := s.tel.Hangup(ctx, lc.handle); err != nil {
		s.logger.Debug().Err(err).Str("item_id", itemID).Msg("hangup at wrap-up failed")
	}

	s.persistItem(snapshot)
	s.persistResult(result)
	if session.ID != "" {
		s.persistSession(session)
	}
	if followUp != nil {
		s.persistItem(*followUp)
	}
	recordDialResult(campaignID, snapshot.Status)
	s.emit(EventWrapUp, Event{
		CampaignID:  campaignID,
		ItemID:      itemID,
		AgentID:     lc.agentID,
		Status:      snapshot.Status,
		Attempt:     snapshot.Attempts,
		Disposition: disposition,
		Timestamp:   now,
	})
	return result, nil
}

// presentLocked offers one contact to each idle preview agent
func (s *Scheduler) presentLocked(c *campaign, idle []string, candidates []*types.CallListItem, now time.Time) []types.PreviewContact {
	var out []types.PreviewContact
	for _, agent := range idle {
		if len(candidates) == 0 {
			break
		}
		item := candidates[0]
		if s.pool.ReserveLongestIdle([]string{agent}, item.ID) == "" {
			continue
		}
		candidates = candidates[1:]
		c.previews[agent] = preview{itemID: item.ID, at: now}
		c.held[item.ID] = agent
		if sess, ok := c.sessions[agent]; ok {
			sess.CallsPresented++
		}
		out = append(out, types.PreviewContact{
			Type:        types.MsgPreviewContact,
			AgentID:     agent,
			CampaignID:  c.cfg.ID,
			ItemID:      item.ID,
			PhoneNumber: item.PhoneNumber,
			CustomerRef: item.CustomerRef,
			Attempts:    item.Attempts,
			Timestamp:   now,
		})
	}
	return out
}

// expirePreviewsLocked drops previews the agent never answered
func (s *Scheduler) expirePreviewsLocked(c *campaign, now time.Time) []preview {
	var expired []preview
	for agent, p := range c.previews {
		if now.Sub(p.at) < s.cfg.PreviewTimeout {
			continue
		}
		delete(c.previews, agent)
		delete(c.held, p.itemID)
		s.pool.CancelReservation(agent, p.itemID)
		expired = append(expired, p)
	}
	return expired
}

func (s *Scheduler) deliverPreview(pc types.PreviewContact) {
	if s.sendJSON(pc.AgentID, pc) {
		s.emit(EventPreview, Event{CampaignID: pc.CampaignID, ItemID: pc.ItemID, AgentID: pc.AgentID, Timestamp: pc.Timestamp})
		return
	}
	s.logger.Warn().Str("agent_id", pc.AgentID).Str("item_id", pc.ItemID).Msg("preview not delivered, withdrawing")

	s.mu.Lock()
	if c, ok := s.campaigns[pc.CampaignID]; ok {
		if p, ok := c.previews[pc.AgentID]; ok && p.itemID == pc.ItemID {
			delete(c.previews, pc.AgentID)
			delete(c.held, pc.ItemID)
		}
	}
	s.mu.Unlock()
	s.pool.CancelReservation(pc.AgentID, pc.ItemID)
}

// ConfirmPreview dials the contact presented to the agent
func (s *Scheduler) ConfirmPreview(ctx context.Context, campaignID, agentID string) error {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	p, ok := c.previews[agentID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPreview, agentID)
	}
	delete(c.previews, agentID)
	delete(c.held, p.itemID)

	item := c.items[p.itemID]
	open, reason := CampaignOpen(&c.cfg, now)
	if open {
		open, reason = ItemEligible(&c.cfg, item, now)
	}
	if !open || !c.lines.TryAcquire(1) {
		s.mu.Unlock()
		s.pool.CancelReservation(agentID, p.itemID)
		if reason == "" {
			reason = "no free line"
		}
		return fmt.Errorf("%w: %s", ErrNotDialable, reason)
	}
	plan := c.place(item, agentID, now)
	dctx := context.WithoutCancel(ctx)
	if c.run != nil {
		dctx = c.run.ctx
	}
	s.mu.Unlock()

	s.persistItem(plan.item)
	s.dials.Add(1)
	go s.dial(dctx, plan)
	return nil
}

// SkipPreview releases the agent and moves the contact back by the retry
// delay without counting an attempt
func (s *Scheduler) SkipPreview(ctx context.Context, campaignID, agentID string) error {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	p, ok := c.previews[agentID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPreview, agentID)
	}
	delete(c.previews, agentID)
	delete(c.held, p.itemID)
	item := c.items[p.itemID]
	next := now.Add(time.Duration(c.cfg.RetryDelayMinutes) * time.Minute)
	item.NextEligibleAt = &next
	item.LastDisposition = "skipped"
	snapshot := *item
	s.kickLocked(c)
	s.mu.Unlock()

	s.pool.CancelReservation(agentID, p.itemID)
	s.persistItemCtx(ctx, snapshot)
	return nil
}

// ScheduleCallback books an outbound callback in the configured callback campaign
func (s *Scheduler) ScheduleCallback(ctx context.Context, number, customerRef string) error {
	if s.cfg.CallbackCampaign == "" {
		return ErrNoCallbackCampaign
	}
	item := types.CallListItem{
		PhoneNumber: number,
		CustomerRef: customerRef,
		Priority:    callbackPriority,
	}
	return s.AddItems(ctx, s.cfg.CallbackCampaign, []types.CallListItem{item})
}

func (s *Scheduler) emit(kind string, ev Event) {
	if s.events != nil {
		s.events.Emit(kind, ev)
	}
}
