package dialer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// AddCampaign registers or updates a campaign. Its call list is kept.
func (s *Scheduler) AddCampaign(ctx context.Context, cfg types.DialerCampaign) error {
	if cfg.Status == "" {
		cfg.Status = types.CampaignDraft
	}
	if err := ValidateCampaign(&cfg); err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.campaigns[cfg.ID]
	if !ok {
		c = s.newCampaign(cfg)
		s.campaigns[cfg.ID] = c
	}
	c.cfg = cfg
	var stopped <-chan struct{}
	if cfg.Status == types.CampaignActive {
		s.startRunnerLocked(cfg.ID, c)
	} else {
		stopped = s.stopRunnerLocked(c)
	}
	s.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
	s.persistCampaign(ctx, cfg)
	return nil
}

// StartCampaign activates a campaign
func (s *Scheduler) StartCampaign(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, types.CampaignActive)
}

// PauseCampaign stops new dials at once. Dials already placed finish and
// record their results.
func (s *Scheduler) PauseCampaign(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, types.CampaignPaused)
}

func (s *Scheduler) setStatus(ctx context.Context, id string, status types.CampaignStatus) error {
	s.mu.Lock()
	c, ok := s.campaigns[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, id)
	}
	prev := c.cfg.Status
	c.cfg.Status = status
	var stopped <-chan struct{}
	if status == types.CampaignActive {
		c.pausedUntil = time.Time{}
		c.outages = 0
		s.startRunnerLocked(id, c)
	} else {
		stopped = s.stopRunnerLocked(c)
		s.dropPreviewsLocked(c)
	}
	cfg := c.cfg
	s.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
	s.persistCampaign(ctx, cfg)
	if prev != status {
		s.emit(EventCampaignStatus, Event{CampaignID: id, Message: string(status), Timestamp: s.clock.Now()})
		s.logger.Info().Str("campaign_id", id).Str("from", string(prev)).Str("to", string(status)).Msg("campaign status changed")
	}
	return nil
}

// dropPreviewsLocked releases every presented contact of the campaign
func (s *Scheduler) dropPreviewsLocked(c *campaign) {
	for agent, p := range c.previews {
		delete(c.previews, agent)
		delete(c.held, p.itemID)
		s.pool.CancelReservation(agent, p.itemID)
	}
}

// Sweep completes active campaigns whose scheduled window has ended or whose
// call list is fully worked. It returns the completed campaign IDs.
func (s *Scheduler) Sweep(ctx context.Context) []string {
	now := s.clock.Now()

	s.mu.Lock()
	var done []string
	for id, c := range s.campaigns {
		if c.cfg.Status != types.CampaignActive {
			continue
		}
		ended := c.cfg.ScheduledEnd != nil && now.After(*c.cfg.ScheduledEnd)
		if ended || c.workedOut() {
			done = append(done, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(done)
	for _, id := range done {
		if err := s.setStatus(ctx, id, types.CampaignCompleted); err != nil {
			s.logger.Error().Err(err).Str("campaign_id", id).Msg("failed to complete campaign")
		}
	}
	return done
}

// workedOut reports whether every contact is terminal and no call is live
func (c *campaign) workedOut() bool {
	if len(c.items) == 0 || c.ringing > 0 || len(c.live) > 0 {
		return false
	}
	for _, item := range c.items {
		if !item.Terminal() {
			return false
		}
	}
	return true
}

// AddItems appends contacts to a campaign's call list. Contacts already on
// the list are skipped. One invalid contact rejects the whole batch.
func (s *Scheduler) AddItems(ctx context.Context, campaignID string, items []types.CallListItem) error {
	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	added := make([]types.CallListItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, in := range items {
		item := in
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if _, exists := c.items[item.ID]; exists || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		item.CampaignID = campaignID
		if err := prepareItem(&c.cfg, &item); err != nil {
			s.mu.Unlock()
			return err
		}
		added = append(added, item)
	}
	for i := range added {
		item := added[i]
		c.items[item.ID] = &item
	}
	s.kickLocked(c)
	s.mu.Unlock()

	for _, item := range added {
		s.persistItemCtx(ctx, item)
	}
	return nil
}

// JoinSession opens an agent's session in a campaign. Joining twice returns
// the open session.
func (s *Scheduler) JoinSession(ctx context.Context, campaignID, agentID string) (types.DialerSession, error) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return types.DialerSession{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	if sess, ok := c.sessions[agentID]; ok {
		out := *sess
		s.mu.Unlock()
		return out, nil
	}
	sess := &types.DialerSession{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		AgentID:    agentID,
		StartedAt:  now,
	}
	c.sessions[agentID] = sess
	out := *sess
	s.kickLocked(c)
	s.mu.Unlock()

	s.persistSessionCtx(ctx, out)
	s.logger.Info().Str("campaign_id", campaignID).Str("agent_id", agentID).Msg("agent joined campaign")
	return out, nil
}

// LeaveSession ends an agent's session. A contact presented to the agent is
// released.
func (s *Scheduler) LeaveSession(ctx context.Context, campaignID, agentID string) (types.DialerSession, error) {
	now := s.clock.Now()

	s.mu.Lock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		s.mu.Unlock()
		return types.DialerSession{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	sess, ok := c.sessions[agentID]
	if !ok {
		s.mu.Unlock()
		return types.DialerSession{}, fmt.Errorf("%w: %s", ErrNoSession, agentID)
	}
	delete(c.sessions, agentID)
	if p, ok := c.previews[agentID]; ok {
		delete(c.previews, agentID)
		delete(c.held, p.itemID)
		s.pool.CancelReservation(agentID, p.itemID)
	}
	ended := now
	sess.EndedAt = &ended
	out := *sess
	s.mu.Unlock()

	s.persistSessionCtx(ctx, out)
	s.logger.Info().Str("campaign_id", campaignID).Str("agent_id", agentID).Msg("agent left campaign")
	return out, nil
}

// Campaign returns a campaign's configuration
func (s *Scheduler) Campaign(id string) (types.DialerCampaign, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return types.DialerCampaign{}, false
	}
	return c.cfg, true
}

// Campaigns returns every campaign ordered by ID
func (s *Scheduler) Campaigns() []types.DialerCampaign {
	s.mu.Lock()
	out := make([]types.DialerCampaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c.cfg)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Item returns one contact
func (s *Scheduler) Item(campaignID, itemID string) (types.CallListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return types.CallListItem{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	item, ok := c.items[itemID]
	if !ok {
		return types.CallListItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return *item, nil
}

// Items returns a campaign's call list ordered by ID
func (s *Scheduler) Items(campaignID string) []types.CallListItem {
	s.mu.Lock()
	var out []types.CallListItem
	if c, ok := s.campaigns[campaignID]; ok {
		for _, item := range c.items {
			out = append(out, *item)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Results returns the campaign's call results in the order they were written
func (s *Scheduler) Results(campaignID string) []types.CallResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil
	}
	return append([]types.CallResult(nil), c.results...)
}

// Sessions returns the open sessions of a campaign ordered by agent
func (s *Scheduler) Sessions(campaignID string) []types.DialerSession {
	s.mu.Lock()
	var out []types.DialerSession
	if c, ok := s.campaigns[campaignID]; ok {
		for _, sess := range c.sessions {
			out = append(out, *sess)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Pacing returns the predictive ratio and abandon rate of a campaign
func (s *Scheduler) Pacing(campaignID string) (ratio, abandonRate float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return 0, 0, false
	}
	return c.pacer.Ratio(), c.pacer.AbandonRate(), true
}
