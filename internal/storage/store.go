package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// recordTimeLayout is fixed width so ids sort chronologically
const recordTimeLayout = "2006-01-02T15:04:05.000000000Z"

const settingDefaultQueue = "default_queue"

// Store is the typed persistence interface of the core
type Store struct {
	backend Backend
	logger  zerolog.Logger
}

// NewStore creates a Store over backend
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{backend: backend, logger: logger.With().Str("component", "store").Logger()}
}

// Open builds the configured backend, wrapped in Retrying, and the Store
// over it. The Retrying wrapper is returned so the caller can run its
// outbox loop.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, *Retrying, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case BackendSQLite:
		backend, err = OpenSQLite(cfg.SQLitePath, logger)
	case BackendDynamo:
		backend, err = NewDynamoBackend(ctx, cfg.Dynamo, logger)
	default:
		logger.Info().Msg("using in-memory store (STORE_BACKEND=memory)")
		backend = NewMemoryBackend()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	retrying := NewRetrying(backend, cfg, logger)
	return NewStore(retrying, logger), retrying, nil
}

func (s *Store) put(ctx context.Context, kind, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return s.backend.Put(ctx, kind, id, doc)
}

func (s *Store) insert(ctx context.Context, kind, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return s.backend.Insert(ctx, kind, id, doc)
}

// list decodes every document of kind under prefix. Undecodable documents
// are logged and skipped.
func list[T any](ctx context.Context, s *Store, kind, prefix string) ([]T, error) {
	docs, err := s.backend.List(ctx, kind, prefix)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			s.logger.Warn().Err(err).Str("kind", kind).Msg("skipping undecodable document")
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func get[T any](ctx context.Context, s *Store, kind, id string) (T, error) {
	var v T
	doc, err := s.backend.Get(ctx, kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(doc, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return v, nil
}

// Configuration

func (s *Store) UpsertRoutingRule(ctx context.Context, r types.RoutingRule) error {
	return s.put(ctx, KindRoutingRule, r.ID, r)
}

func (s *Store) LoadRoutingRules(ctx context.Context) ([]types.RoutingRule, error) {
	return list[types.RoutingRule](ctx, s, KindRoutingRule, "")
}

func (s *Store) UpsertPriorityRule(ctx context.Context, r types.PriorityRule) error {
	return s.put(ctx, KindPriorityRule, r.ID, r)
}

func (s *Store) LoadPriorityRules(ctx context.Context) ([]types.PriorityRule, error) {
	return list[types.PriorityRule](ctx, s, KindPriorityRule, "")
}

func (s *Store) UpsertAgentSkill(ctx context.Context, sk types.AgentSkill) error {
	return s.put(ctx, KindAgentSkill, key(sk.AgentID, sk.SkillName), sk)
}

// LoadAgentSkills returns the skills of one agent, or of every agent when
// agentID is empty
func (s *Store) LoadAgentSkills(ctx context.Context, agentID string) ([]types.AgentSkill, error) {
	prefix := ""
	if agentID != "" {
		prefix = key(agentID, "")
	}
	return list[types.AgentSkill](ctx, s, KindAgentSkill, prefix)
}

func (s *Store) UpsertQueueConfig(ctx context.Context, q types.QueueConfig) error {
	return s.put(ctx, KindQueueConfig, q.Name, q)
}

func (s *Store) LoadQueueConfigs(ctx context.Context) ([]types.QueueConfig, error) {
	return list[types.QueueConfig](ctx, s, KindQueueConfig, "")
}

func (s *Store) UpsertIVRMenu(ctx context.Context, m types.IVRMenu) error {
	return s.put(ctx, KindIVRMenu, m.ID, m)
}

func (s *Store) LoadIVRMenus(ctx context.Context) ([]types.IVRMenu, error) {
	return list[types.IVRMenu](ctx, s, KindIVRMenu, "")
}

func (s *Store) UpsertCustomer(ctx context.Context, c types.CustomerContext) error {
	return s.put(ctx, KindCustomer, c.CustomerID, c)
}

func (s *Store) LoadCustomers(ctx context.Context) ([]types.CustomerContext, error) {
	return list[types.CustomerContext](ctx, s, KindCustomer, "")
}

// SaveRuleSet writes every record of set. Existing records with other ids
// are left in place.
func (s *Store) SaveRuleSet(ctx context.Context, set *rules.Set) error {
	var errs []error
	if set.DefaultQueue != "" {
		errs = append(errs, s.put(ctx, KindSetting, settingDefaultQueue, set.DefaultQueue))
	}
	for _, q := range set.Queues {
		errs = append(errs, s.UpsertQueueConfig(ctx, q))
	}
	for _, sk := range set.Skills {
		errs = append(errs, s.UpsertAgentSkill(ctx, sk))
	}
	for _, r := range set.RoutingRules {
		errs = append(errs, s.UpsertRoutingRule(ctx, r))
	}
	for _, r := range set.PriorityRules {
		errs = append(errs, s.UpsertPriorityRule(ctx, r))
	}
	for _, m := range set.Menus {
		errs = append(errs, s.UpsertIVRMenu(ctx, m))
	}
	for _, c := range set.Customers {
		errs = append(errs, s.UpsertCustomer(ctx, c))
	}
	for _, c := range set.Campaigns {
		errs = append(errs, s.UpsertCampaign(ctx, c))
	}
	for _, item := range set.CallList {
		errs = append(errs, s.UpsertCallListItem(ctx, item))
	}
	return errors.Join(errs...)
}

// LoadRuleSet reads the stored configuration. The result is not validated.
func (s *Store) LoadRuleSet(ctx context.Context) (*rules.Set, error) {
	set := &rules.Set{}
	def, err := get[string](ctx, s, KindSetting, settingDefaultQueue)
	switch {
	case err == nil:
		set.DefaultQueue = def
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if set.Queues, err = s.LoadQueueConfigs(ctx); err != nil {
		return nil, err
	}
	if set.Skills, err = s.LoadAgentSkills(ctx, ""); err != nil {
		return nil, err
	}
	if set.RoutingRules, err = s.LoadRoutingRules(ctx); err != nil {
		return nil, err
	}
	if set.PriorityRules, err = s.LoadPriorityRules(ctx); err != nil {
		return nil, err
	}
	if set.Menus, err = s.LoadIVRMenus(ctx); err != nil {
		return nil, err
	}
	if set.Customers, err = s.LoadCustomers(ctx); err != nil {
		return nil, err
	}
	return set, nil
}

// Outbound

func (s *Store) UpsertCampaign(ctx context.Context, c types.DialerCampaign) error {
	return s.put(ctx, KindCampaign, c.ID, c)
}

func (s *Store) LoadCampaigns(ctx context.Context) ([]types.DialerCampaign, error) {
	return list[types.DialerCampaign](ctx, s, KindCampaign, "")
}

func (s *Store) UpsertCallListItem(ctx context.Context, item types.CallListItem) error {
	return s.put(ctx, KindCallListItem, key(item.CampaignID, item.ID), item)
}

func (s *Store) LoadCallListItems(ctx context.Context, campaignID string) ([]types.CallListItem, error) {
	return list[types.CallListItem](ctx, s, KindCallListItem, key(campaignID, ""))
}

func (s *Store) UpsertDialerSession(ctx context.Context, ds types.DialerSession) error {
	return s.put(ctx, KindDialerSession, key(ds.CampaignID, ds.ID), ds)
}

func (s *Store) LoadDialerSessions(ctx context.Context, campaignID string) ([]types.DialerSession, error) {
	return list[types.DialerSession](ctx, s, KindDialerSession, key(campaignID, ""))
}

// AppendCallResult stores r once. Writing the same result id again fails with
// ErrExists.
func (s *Store) AppendCallResult(ctx context.Context, r types.CallResult) error {
	return s.insert(ctx, KindCallResult, key(r.CampaignID, r.DialedAt.UTC().Format(recordTimeLayout), r.ID), r)
}

// LoadCallResults returns a campaign's results in dial order
func (s *Store) LoadCallResults(ctx context.Context, campaignID string) ([]types.CallResult, error) {
	return list[types.CallResult](ctx, s, KindCallResult, key(campaignID, ""))
}

// Inbound

func (s *Store) UpsertQueueItem(ctx context.Context, item types.QueueItem) error {
	return s.put(ctx, KindQueueItem, item.ID, item)
}

func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, KindQueueItem, id)
}

func (s *Store) LoadQueueItems(ctx context.Context) ([]types.QueueItem, error) {
	return list[types.QueueItem](ctx, s, KindQueueItem, "")
}

// AppendInteractionRecord stores rec once, keyed by the time it ended
func (s *Store) AppendInteractionRecord(ctx context.Context, rec types.InteractionRecord) error {
	return s.insert(ctx, KindInteractionRecord, key(rec.EndedAt.UTC().Format(recordTimeLayout), rec.ID), rec)
}

// LoadInteractionRecords returns records that ended on date (YYYY-MM-DD,
// UTC) in end order. An empty date returns every record.
func (s *Store) LoadInteractionRecords(ctx context.Context, date string) ([]types.InteractionRecord, error) {
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", date, err)
		}
	}
	return list[types.InteractionRecord](ctx, s, KindInteractionRecord, date)
}

// Truncate removes every stored document
func (s *Store) Truncate(ctx context.Context) error {
	return s.backend.Truncate(ctx)
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
