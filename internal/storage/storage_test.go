package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	file, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"), zerolog.Nop())
	require.NoError(t, err)
	mem, err := OpenSQLite(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		file.Close()
		mem.Close()
	})
	return map[string]Backend{
		"memory":        NewMemoryBackend(),
		"sqlite":        file,
		"sqlite_memory": mem,
	}
}

func TestBackendContract(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(ctx, KindCampaign, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Put(ctx, KindCampaign, "c1", []byte(`{"v":1}`)))
			require.NoError(t, b.Put(ctx, KindCampaign, "c1", []byte(`{"v":2}`)))
			doc, err := b.Get(ctx, KindCampaign, "c1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(doc))

			require.NoError(t, b.Insert(ctx, KindCallResult, "r1", []byte(`{"a":1}`)))
			err = b.Insert(ctx, KindCallResult, "r1", []byte(`{"a":2}`))
			assert.ErrorIs(t, err, ErrExists)
			doc, err = b.Get(ctx, KindCallResult, "r1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(doc), "insert never overwrites")

			for _, id := range []string{"camp-b#2", "camp-a#2", "camp-a#1", "camp-ab#1"} {
				require.NoError(t, b.Put(ctx, KindCallListItem, id, []byte(`"`+id+`"`)))
			}
			docs, err := b.List(ctx, KindCallListItem, "camp-a#")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, `"camp-a#1"`, string(docs[0]))
			assert.Equal(t, `"camp-a#2"`, string(docs[1]))

			all, err := b.List(ctx, KindCallListItem, "")
			require.NoError(t, err)
			assert.Len(t, all, 4)

			require.NoError(t, b.Delete(ctx, KindCallListItem, "camp-a#1"))
			require.NoError(t, b.Delete(ctx, KindCallListItem, "camp-a#1"), "deleting twice is fine")
			_, err = b.Get(ctx, KindCallListItem, "camp-a#1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Truncate(ctx))
			all, err = b.List(ctx, KindCampaign, "")
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	b, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, KindQueueItem, "q1", []byte(`{}`)))
	require.NoError(t, b.Close())

	b, err = OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err, "migrations are not reapplied")
	defer b.Close()
	_, err = b.Get(ctx, KindQueueItem, "q1")
	assert.NoError(t, err)
}

// flaky fails every operation while down is set
type flaky struct {
	*MemoryBackend
	down  atomic.Bool
	calls atomic.Int32
}

var errUnavailable = errors.New("backend unavailable")

func (f *flaky) check() error {
	f.calls.Add(1)
	if f.down.Load() {
		return errUnavailable
	}
	return nil
}

func (f *flaky) Put(ctx context.Context, kind, id string, doc []byte) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Put(ctx, kind, id, doc)
}

func (f *flaky) Insert(ctx context.Context, kind, id string, doc []byte) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Insert(ctx, kind, id, doc)
}

func (f *flaky) Get(ctx context.Context, kind, id string) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.MemoryBackend.Get(ctx, kind, id)
}

func (f *flaky) List(ctx context.Context, kind, prefix string) ([][]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.MemoryBackend.List(ctx, kind, prefix)
}

func (f *flaky) Delete(ctx context.Context, kind, id string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Delete(ctx, kind, id)
}

func newRetrying() (*Retrying, *flaky) {
	f := &flaky{MemoryBackend: NewMemoryBackend()}
	cfg := Config{RetryAttempts: 3, RetryBase: time.Millisecond, FlushInterval: 10 * time.Millisecond}
	return NewRetrying(f, cfg, zerolog.Nop()), f
}

func TestRetryingQueuesFailedWrites(t *testing.T) {
	ctx := context.Background()
	r, f := newRetrying()

	f.down.Store(true)
	require.NoError(t, r.Put(ctx, KindCampaign, "a", []byte(`1`)))
	require.NoError(t, r.Put(ctx, KindCampaign, "a", []byte(`2`)))
	require.NoError(t, r.Put(ctx, KindCampaign, "b", []byte(`1`)))
	require.NoError(t, r.Delete(ctx, KindCampaign, "b"))
	assert.Equal(t, 4, r.Pending())

	doc, err := r.Get(ctx, KindCampaign, "a")
	require.NoError(t, err, "queued writes are readable")
	assert.Equal(t, `2`, string(doc))
	_, err = r.Get(ctx, KindCampaign, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 4, r.Flush(ctx), "nothing flushes while the backend is down")

	f.down.Store(false)
	assert.Equal(t, 0, r.Flush(ctx))

	doc, err = f.MemoryBackend.Get(ctx, KindCampaign, "a")
	require.NoError(t, err)
	assert.Equal(t, `2`, string(doc), "writes apply in order")
	_, err = f.MemoryBackend.Get(ctx, KindCampaign, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryingRetriesReads(t *testing.T) {
	ctx := context.Background()
	r, f := newRetrying()
	require.NoError(t, f.MemoryBackend.Put(ctx, KindCampaign, "a", []byte(`1`)))

	f.down.Store(true)
	_, err := r.Get(ctx, KindCampaign, "a")
	assert.ErrorIs(t, err, errUnavailable)
	assert.EqualValues(t, 3, f.calls.Load())

	f.calls.Store(0)
	_, err = r.List(ctx, KindCampaign, "")
	assert.ErrorIs(t, err, errUnavailable)
	assert.EqualValues(t, 3, f.calls.Load())

	f.down.Store(false)
	f.calls.Store(0)
	_, err = r.Get(ctx, KindCampaign, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, f.calls.Load(), "not found is not retried")
}

func TestRetryingBackoffDoubles(t *testing.T) {
	r := NewRetrying(NewMemoryBackend(), Config{RetryAttempts: 4, RetryBase: 50 * time.Millisecond}, zerolog.Nop())
	assert.Equal(t, 50*time.Millisecond, r.backoff(1))
	assert.Equal(t, 100*time.Millisecond, r.backoff(2))
	assert.Equal(t, 200*time.Millisecond, r.backoff(3))

	defaults := NewRetrying(NewMemoryBackend(), Config{}, zerolog.Nop())
	assert.Equal(t, 100*time.Millisecond, defaults.backoff(1))
}

func TestRetryingInsertSemantics(t *testing.T) {
	ctx := context.Background()
	r, f := newRetrying()

	require.NoError(t, r.Insert(ctx, KindCallResult, "r1", []byte(`1`)))
	assert.ErrorIs(t, r.Insert(ctx, KindCallResult, "r1", []byte(`2`)), ErrExists)
	assert.Zero(t, r.Pending(), "ErrExists is not queued")

	f.down.Store(true)
	require.NoError(t, r.Insert(ctx, KindCallResult, "r2", []byte(`1`)))
	assert.ErrorIs(t, r.Insert(ctx, KindCallResult, "r2", []byte(`2`)), ErrExists)

	// another writer got there first
	require.NoError(t, f.MemoryBackend.Put(ctx, KindCallResult, "r2", []byte(`other`)))
	f.down.Store(false)
	assert.Equal(t, 0, r.Flush(ctx), "queued insert meeting an existing document is dropped")
	doc, err := f.MemoryBackend.Get(ctx, KindCallResult, "r2")
	require.NoError(t, err)
	assert.Equal(t, `other`, string(doc))
}

func TestRetryingRunFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, f := newRetrying()

	f.down.Store(true)
	require.NoError(t, r.Put(ctx, KindCampaign, "a", []byte(`1`)))

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	f.down.Store(false)
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)

	f.down.Store(true)
	require.NoError(t, r.Put(ctx, KindCampaign, "b", []byte(`1`)))
	f.down.Store(false)
	cancel()
	<-done
	assert.Zero(t, r.Pending(), "shutdown makes a final flush")
	_, err := f.MemoryBackend.Get(context.Background(), KindCampaign, "b")
	assert.NoError(t, err)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	b, err := OpenSQLite(":memory:", zerolog.Nop())
	require.NoError(t, err)
	s := NewStore(b, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRuleSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	voice := types.ChannelVoice

	set := &rules.Set{
		DefaultQueue: "general",
		Queues:       []types.QueueConfig{{Name: "billing", SLTarget: 90, SLSeconds: 30}},
		Skills: []types.AgentSkill{
			{AgentID: "agent-1", SkillName: "billing", ProficiencyLevel: 7, IsActive: true},
			{AgentID: "agent-2", SkillName: "billing", ProficiencyLevel: 3, IsActive: true},
		},
		RoutingRules: []types.RoutingRule{{
			ID: "r1", Name: "vip voice", ChannelType: &voice, Strategy: types.StrategySkillsBased,
			Priority: 8, TargetSkill: "billing", OverflowAction: types.OverflowVoicemail,
			Conditions: types.RuleConditions{CustomerTier: "gold"}, IsActive: true, CreatedSeq: 1,
		}},
		PriorityRules: []types.PriorityRule{{
			ID: "p1", PriorityLevel: 5, BoostPercentage: 50,
			Condition: types.WaitTimeAbove{Minutes: 2}, IsActive: true,
		}},
		Customers: []types.CustomerContext{{CustomerID: "cust-1", Tier: "gold"}},
	}
	require.NoError(t, s.SaveRuleSet(ctx, set))

	got, err := s.LoadRuleSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "general", got.DefaultQueue)
	assert.Equal(t, set.Queues, got.Queues)
	assert.Len(t, got.Skills, 2)
	require.Len(t, got.RoutingRules, 1)
	assert.Equal(t, types.ChannelVoice, *got.RoutingRules[0].ChannelType)
	assert.Equal(t, "gold", got.RoutingRules[0].Conditions.CustomerTier)
	require.Len(t, got.PriorityRules, 1)
	assert.Equal(t, types.WaitTimeAbove{Minutes: 2}, got.PriorityRules[0].Condition)
	assert.Equal(t, set.Customers, got.Customers)

	skills, err := s.LoadAgentSkills(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, 7, skills[0].ProficiencyLevel)
}

func TestStoreCallResultsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2026, 7, 15, 14, 0, 0, 0, time.UTC)

	second := types.CallResult{ID: "res-2", CampaignID: "c1", Disposition: "busy", DialedAt: t0.Add(time.Minute)}
	first := types.CallResult{ID: "res-1", CampaignID: "c1", Disposition: "no_answer", DialedAt: t0}
	require.NoError(t, s.AppendCallResult(ctx, second))
	require.NoError(t, s.AppendCallResult(ctx, first))
	require.NoError(t, s.AppendCallResult(ctx, types.CallResult{ID: "res-3", CampaignID: "c2", DialedAt: t0}))

	second.Disposition = "completed"
	assert.ErrorIs(t, s.AppendCallResult(ctx, second), ErrExists)

	got, err := s.LoadCallResults(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "res-1", got[0].ID, "results load in dial order")
	assert.Equal(t, "busy", got[1].Disposition)
}

func TestStoreCampaignsAndItems(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.UpsertCampaign(ctx, types.DialerCampaign{ID: "c1", Status: types.CampaignActive}))
	require.NoError(t, s.UpsertCallListItem(ctx, types.CallListItem{ID: "i1", CampaignID: "c1", Status: types.CallPending}))
	require.NoError(t, s.UpsertCallListItem(ctx, types.CallListItem{ID: "i1", CampaignID: "c1", Status: types.CallNoAnswer, Attempts: 1}))
	require.NoError(t, s.UpsertCallListItem(ctx, types.CallListItem{ID: "i1", CampaignID: "c10", Status: types.CallPending}))
	require.NoError(t, s.UpsertDialerSession(ctx, types.DialerSession{ID: "s1", CampaignID: "c1", AgentID: "agent-1"}))

	campaigns, err := s.LoadCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)

	items, err := s.LoadCallListItems(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, items, 1, "prefix does not leak into c10")
	assert.Equal(t, types.CallNoAnswer, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)

	sessions, err := s.LoadDialerSessions(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStoreQueueItemsAndRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	day := time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertQueueItem(ctx, types.QueueItem{ID: "q1", QueueName: "billing", Status: types.ItemWaiting}))
	require.NoError(t, s.UpsertQueueItem(ctx, types.QueueItem{ID: "q2", QueueName: "billing", Status: types.ItemWaiting}))
	require.NoError(t, s.DeleteQueueItem(ctx, "q1"))
	items, err := s.LoadQueueItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "q2", items[0].ID)

	require.NoError(t, s.AppendInteractionRecord(ctx, types.InteractionRecord{ID: "q1", Status: types.ItemCompleted, EndedAt: day}))
	require.NoError(t, s.AppendInteractionRecord(ctx, types.InteractionRecord{ID: "q3", Status: types.ItemAbandoned, EndedAt: day.Add(24 * time.Hour)}))
	assert.ErrorIs(t, s.AppendInteractionRecord(ctx, types.InteractionRecord{ID: "q1", EndedAt: day}), ErrExists)

	recs, err := s.LoadInteractionRecords(ctx, "2026-07-15")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "q1", recs[0].ID)

	all, err := s.LoadInteractionRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.LoadInteractionRecords(ctx, "15/07/2026")
	assert.Error(t, err)
}

func TestOpenDefaultsToMemory(t *testing.T) {
	s, r, err := Open(context.Background(), Config{Backend: "unknown"}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, r)
	require.NoError(t, s.UpsertCampaign(context.Background(), types.DialerCampaign{ID: "c1"}))
	got, err := s.LoadCampaigns(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
