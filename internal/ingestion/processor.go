package ingestion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// outboundTimeout bounds dialer calls made on behalf of an agent message
const outboundTimeout = 10 * time.Second

// InteractionCompleter ends inbound interactions
type InteractionCompleter interface {
	Complete(id string, talkTime float64) (types.QueueItem, bool)
}

// OutboundHandler takes agent decisions for outbound calls
type OutboundHandler interface {
	WrapUp(ctx context.Context, campaignID, itemID string, w types.WrapUp) (types.CallResult, error)
	ConfirmPreview(ctx context.Context, campaignID, agentID string) error
	SkipPreview(ctx context.Context, campaignID, agentID string) error
}

// SkillSource supplies configured skills for agents that register without any
type SkillSource interface {
	SkillsFor(agentID string) []types.AgentSkill
}

// DefaultProcessor implements EventProcessor on top of the agent pool, the
// queue manager and the dialer
type DefaultProcessor struct {
	pool      *cache.AgentPool
	events    *cache.EventCache
	completer InteractionCompleter
	outbound  OutboundHandler
	skills    SkillSource
	logger    zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(pool *cache.AgentPool, events *cache.EventCache, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		pool:   pool,
		events: events,
		logger: logger.With().Str("component", "processor").Logger(),
	}
}

// SetInteractionCompleter sets the inbound completer (to avoid circular init)
func (p *DefaultProcessor) SetInteractionCompleter(c InteractionCompleter) {
	p.completer = c
}

// SetOutboundHandler sets the dialer
func (p *DefaultProcessor) SetOutboundHandler(h OutboundHandler) {
	p.outbound = h
}

// SetSkillSource sets where missing skills are looked up
func (p *DefaultProcessor) SetSkillSource(s SkillSource) {
	p.skills = s
}

func (p *DefaultProcessor) ProcessRegister(reg *types.AgentRegister) {
	if len(reg.Skills) == 0 && p.skills != nil {
		reg.Skills = p.skills.SkillsFor(reg.AgentID)
	}
	p.pool.RegisterAgent(reg)
	metrics.Get().RecordAgentEvent("register")

	p.logger.Debug().
		Str("agent_id", reg.AgentID).
		Str("state", string(reg.State)).
		Int("skills", len(reg.Skills)).
		Msg("agent registered")
}

func (p *DefaultProcessor) ProcessHeartbeat(hb *types.AgentHeartbeat) {
	p.pool.UpdateFromHeartbeat(hb)
	metrics.Get().RecordAgentEvent("heartbeat")
}

func (p *DefaultProcessor) ProcessStateChange(sc *types.AgentStateChange) {
	p.pool.UpdateFromStateChange(sc)
	if p.events != nil {
		p.events.Add(*sc)
	}
	metrics.Get().RecordAgentEvent("state_change")

	p.logger.Debug().
		Str("agent_id", sc.AgentID).
		Str("state", string(sc.State)).
		Msg("agent state change")
}

func (p *DefaultProcessor) ProcessInteractionComplete(ic *types.InteractionComplete) {
	metrics.Get().RecordAgentEvent("interaction_complete")
	if p.completer == nil {
		return
	}
	if _, ok := p.completer.Complete(ic.InteractionID, ic.TalkTime); !ok {
		p.logger.Debug().
			Str("agent_id", ic.AgentID).
			Str("interaction_id", ic.InteractionID).
			Msg("complete for unknown interaction")
		return
	}

	p.logger.Debug().
		Str("agent_id", ic.AgentID).
		Str("interaction_id", ic.InteractionID).
		Float64("talk_time", ic.TalkTime).
		Msg("interaction complete")
}

func (p *DefaultProcessor) ProcessWrapUp(wu *types.AgentWrapUp) {
	metrics.Get().RecordAgentEvent("wrap_up")
	if p.outbound == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()

	result, err := p.outbound.WrapUp(ctx, wu.CampaignID, wu.ItemID, wu.WrapUp)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("agent_id", wu.AgentID).
			Str("campaign_id", wu.CampaignID).
			Str("item_id", wu.ItemID).
			Msg("wrap-up rejected")
		return
	}
	p.logger.Debug().
		Str("agent_id", wu.AgentID).
		Str("item_id", wu.ItemID).
		Str("disposition", result.Disposition).
		Msg("wrap-up recorded")
}

func (p *DefaultProcessor) ProcessPreviewDecision(pd *types.PreviewDecision) {
	metrics.Get().RecordAgentEvent(pd.Type)
	if p.outbound == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()

	var err error
	switch pd.Type {
	case types.MsgPreviewConfirm:
		err = p.outbound.ConfirmPreview(ctx, pd.CampaignID, pd.AgentID)
	case types.MsgPreviewSkip:
		err = p.outbound.SkipPreview(ctx, pd.CampaignID, pd.AgentID)
	default:
		p.logger.Debug().Str("type", pd.Type).Msg("unknown preview decision")
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).
			Str("agent_id", pd.AgentID).
			Str("campaign_id", pd.CampaignID).
			Str("decision", pd.Type).
			Msg("preview decision rejected")
	}
}
