package dialer

import (
	"context"
	"encoding/json"

	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Writes run after the scheduler lock is released. The store is expected to
// retry and queue failed writes, so errors here are only logged.

func (s *Scheduler) persistItem(item types.CallListItem) {
	s.persistItemCtx(context.Background(), item)
}

func (s *Scheduler) persistItemCtx(ctx context.Context, item types.CallListItem) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.UpsertCallListItem(ctx, item); err != nil {
		s.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to persist call list item")
	}
}

func (s *Scheduler) persistResult(r types.CallResult) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.AppendCallResult(ctx, r); err != nil {
		s.logger.Error().Err(err).Str("result_id", r.ID).Str("item_id", r.CallListItemID).Msg("failed to persist call result")
	}
}

func (s *Scheduler) persistSession(sess types.DialerSession) {
	s.persistSessionCtx(context.Background(), sess)
}

func (s *Scheduler) persistSessionCtx(ctx context.Context, sess types.DialerSession) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.UpsertDialerSession(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist dialer session")
	}
}

func (s *Scheduler) persistCampaign(ctx context.Context, c types.DialerCampaign) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.UpsertCampaign(ctx, c); err != nil {
		s.logger.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to persist campaign")
	}
}

func (s *Scheduler) sendJSON(agentID string, msg any) bool {
	if s.sender == nil {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to marshal agent message")
		return false
	}
	return s.sender.SendToAgent(agentID, data)
}

func recordDial(campaignID string, mode types.DialerType) {
	metrics.Get().RecordDial(campaignID, mode)
}

func recordDialResult(campaignID string, status types.CallStatus) {
	metrics.Get().RecordDialResult(campaignID, status)
}

func recordPacing(campaignID string, ratio, abandonRate float64, inFlight int) {
	metrics.Get().SetDialerPacing(campaignID, ratio, abandonRate, inFlight)
}
