package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/dialer"
	"github.com/dennisdiepolder/monti/contactcore/internal/inbound"
	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- agent actions ---

type fakeHub struct {
	ended        []string
	disconnected []string
}

func (f *fakeHub) ForceEnd(agentID, interactionID string) bool {
	f.ended = append(f.ended, agentID+"/"+interactionID)
	return true
}

func (f *fakeHub) ForceDisconnect(agentID string) bool {
	f.disconnected = append(f.disconnected, agentID)
	return true
}

type fakeQueues struct {
	active map[string]string // interaction -> agent
}

func (f *fakeQueues) ForceEnd(id string) (string, bool) {
	agent, ok := f.active[id]
	delete(f.active, id)
	return agent, ok
}

func (f *fakeQueues) EndAgentWork(agentID string) []string {
	var ids []string
	for id, a := range f.active {
		if a == agentID {
			ids = append(ids, id)
			delete(f.active, id)
		}
	}
	return ids
}

type fakeSessions struct {
	open map[string][]string // campaign -> agents
	left []string
}

func (f *fakeSessions) Campaigns() []types.DialerCampaign {
	var out []types.DialerCampaign
	for id := range f.open {
		out = append(out, types.DialerCampaign{ID: id})
	}
	return out
}

func (f *fakeSessions) Sessions(campaignID string) []types.DialerSession {
	var out []types.DialerSession
	for _, a := range f.open[campaignID] {
		out = append(out, types.DialerSession{CampaignID: campaignID, AgentID: a})
	}
	return out
}

func (f *fakeSessions) LeaveSession(_ context.Context, campaignID, agentID string) (types.DialerSession, error) {
	f.left = append(f.left, campaignID+"/"+agentID)
	return types.DialerSession{CampaignID: campaignID, AgentID: agentID}, nil
}

func agentRouter(h *AgentActionsHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/agents/{agentId}/interactions/{id}/end", h.EndInteraction)
	r.Post("/api/agents/{agentId}/logout", h.Logout)
	return r
}

func TestEndInteraction(t *testing.T) {
	hub := &fakeHub{}
	queues := &fakeQueues{active: map[string]string{"i-1": "a1"}}
	pool := cache.NewAgentPool(clock.NewFake(testNow), 6*time.Second)
	h := agentRouter(NewAgentActionsHandler(hub, queues, pool, nil, zerolog.Nop()))

	rec := do(h, http.MethodPost, "/api/agents/a1/interactions/i-1/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1/i-1"}, hub.ended)

	rec = do(h, http.MethodPost, "/api/agents/a1/interactions/i-1/end", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutEndsAllWork(t *testing.T) {
	hub := &fakeHub{}
	queues := &fakeQueues{active: map[string]string{"i-1": "a1", "i-2": "a2"}}
	sessions := &fakeSessions{open: map[string][]string{"spring": {"a1", "a3"}}}
	pool := cache.NewAgentPool(clock.NewFake(testNow), 6*time.Second)
	pool.RegisterAgent(&types.AgentRegister{AgentID: "a1"})
	h := agentRouter(NewAgentActionsHandler(hub, queues, pool, sessions, zerolog.Nop()))

	rec := do(h, http.MethodPost, "/api/agents/a1/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)

	a, ok := pool.Get("a1")
	require.True(t, ok)
	assert.Equal(t, types.StateOffline, a.State)
	assert.Equal(t, []string{"spring/a1"}, sessions.left)
	assert.Equal(t, []string{"a1"}, hub.disconnected)
	assert.Contains(t, queues.active, "i-2")
	assert.NotContains(t, queues.active, "i-1")

	rec = do(h, http.MethodPost, "/api/agents/ghost/logout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- roster ---

type staticSkills map[string][]types.AgentSkill

func (s staticSkills) SkillsFor(agentID string) []types.AgentSkill { return s[agentID] }

func TestHandleRoster(t *testing.T) {
	pool := cache.NewAgentPool(clock.NewFake(testNow), 6*time.Second)
	skills := staticSkills{"a2": {{AgentID: "a2", SkillName: "billing", ProficiencyLevel: 4, IsActive: true}}}
	h := NewRosterHandler(pool, skills, zerolog.Nop())

	body := `[{"agentId":"a1","queues":["sales"],"maxConcurrent":2},{"agentId":"a2"},{"agentId":""}]`
	rec := do(http.HandlerFunc(h.HandleRoster), http.MethodPost, "/internal/agents/roster", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"registered":2}`, rec.Body.String())

	a1, ok := pool.Get("a1")
	require.True(t, ok)
	assert.Equal(t, types.StateOffline, a1.State)
	assert.Equal(t, 2, a1.MaxConcurrent)

	a2, _ := pool.Get("a2")
	require.Len(t, a2.Skills, 1)
	assert.Equal(t, "billing", a2.Skills[0].SkillName)

	rec = do(http.HandlerFunc(h.HandleRoster), http.MethodPost, "/internal/agents/roster", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- campaigns ---

type fakeDialer struct {
	campaigns map[string]types.DialerCampaign
	err       error
}

func (f *fakeDialer) AddCampaign(_ context.Context, c types.DialerCampaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", dialer.ErrInvalidCampaign)
	}
	f.campaigns[c.ID] = c
	return nil
}
func (f *fakeDialer) StartCampaign(_ context.Context, id string) error {
	return f.setStatus(id, types.CampaignActive)
}
func (f *fakeDialer) PauseCampaign(_ context.Context, id string) error {
	return f.setStatus(id, types.CampaignPaused)
}
func (f *fakeDialer) setStatus(id string, s types.CampaignStatus) error {
	c, ok := f.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: %s", dialer.ErrUnknownCampaign, id)
	}
	c.Status = s
	f.campaigns[id] = c
	return nil
}
func (f *fakeDialer) AddItems(context.Context, string, []types.CallListItem) error { return f.err }
func (f *fakeDialer) JoinSession(_ context.Context, c, a string) (types.DialerSession, error) {
	return types.DialerSession{CampaignID: c, AgentID: a}, f.err
}
func (f *fakeDialer) LeaveSession(_ context.Context, c, a string) (types.DialerSession, error) {
	return types.DialerSession{CampaignID: c, AgentID: a}, f.err
}
func (f *fakeDialer) WrapUp(_ context.Context, c, item string, w types.WrapUp) (types.CallResult, error) {
	return types.CallResult{CampaignID: c}, f.err
}
func (f *fakeDialer) ConfirmPreview(context.Context, string, string) error { return f.err }
func (f *fakeDialer) SkipPreview(context.Context, string, string) error    { return f.err }
func (f *fakeDialer) Campaign(id string) (types.DialerCampaign, bool) {
	c, ok := f.campaigns[id]
	return c, ok
}
func (f *fakeDialer) Campaigns() []types.DialerCampaign {
	var out []types.DialerCampaign
	for _, c := range f.campaigns {
		out = append(out, c)
	}
	return out
}
func (f *fakeDialer) Items(string) []types.CallListItem     { return nil }
func (f *fakeDialer) Results(string) []types.CallResult     { return nil }
func (f *fakeDialer) Sessions(string) []types.DialerSession { return nil }
func (f *fakeDialer) Pacing(string) (float64, float64, bool) {
	return 1.5, 0.01, true
}

func campaignRouter(d Dialer) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/campaigns", NewCampaignHandler(d, zerolog.Nop()).Routes)
	return r
}

func TestCampaignLifecycle(t *testing.T) {
	d := &fakeDialer{campaigns: map[string]types.DialerCampaign{}}
	h := campaignRouter(d)

	rec := do(h, http.MethodPut, "/api/campaigns/spring", `{"name":"Spring"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/campaigns/spring/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.CampaignActive, d.campaigns["spring"].Status)

	rec = do(h, http.MethodGet, "/api/campaigns/spring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1.5, view["pacingRatio"])

	rec = do(h, http.MethodPost, "/api/campaigns/spring/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.CampaignPaused, d.campaigns["spring"].Status)

	rec = do(h, http.MethodGet, "/api/campaigns/spring/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCampaignErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown campaign", nil, http.MethodPost, "/api/campaigns/nope/start", "", http.StatusNotFound},
		{"invalid campaign", nil, http.MethodPut, "/api/campaigns/x", `{}`, http.StatusBadRequest},
		{"invalid contact", dialer.ErrInvalidItem, http.MethodPost, "/api/campaigns/x/items", `[{"id":"i"}]`, http.StatusBadRequest},
		{"no preview", dialer.ErrNoPreview, http.MethodPost, "/api/campaigns/x/preview/a1/confirm", "", http.StatusConflict},
		{"no session", dialer.ErrNoSession, http.MethodDelete, "/api/campaigns/x/agents/a1", "", http.StatusConflict},
		{"wrapup missing fields", nil, http.MethodPost, "/api/campaigns/x/items/i/wrapup", `{}`, http.StatusBadRequest},
		{"wrapup not connected", dialer.ErrNotConnected, http.MethodPost, "/api/campaigns/x/items/i/wrapup", `{"agentId":"a1","disposition":"sale"}`, http.StatusConflict},
		{"internal", errors.New("boom"), http.MethodPost, "/api/campaigns/x/preview/a1/skip", "", http.StatusInternalServerError},
		{"results unknown", nil, http.MethodGet, "/api/campaigns/nope/results", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{campaigns: map[string]types.DialerCampaign{"x": {ID: "x"}}, err: tt.err}
			rec := do(campaignRouter(d), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// --- admin ---

type fakeReloader struct {
	report *rules.Report
	err    error
}

func (f fakeReloader) Load(context.Context) (*rules.Report, error) { return f.report, f.err }

type fakeSnapshots struct{ snap *types.Snapshot }

func (f fakeSnapshots) Latest() *types.Snapshot { return f.snap }

type fakeTruncater struct{ called bool }

func (f *fakeTruncater) Truncate(context.Context) error {
	f.called = true
	return nil
}

type fakeWiper struct{}

func (fakeWiper) WipeAll() int { return 3 }

func TestReloadRules(t *testing.T) {
	report := &rules.Report{Quarantined: []rules.Issue{{Kind: rules.KindRoutingRule, ID: "bad", Reason: "priority"}}}
	h := NewAdminHandler(fakeReloader{report: report}, fakeSnapshots{}, &fakeTruncater{}, fakeWiper{}, zerolog.Nop())

	rec := do(http.HandlerFunc(h.ReloadRules), http.MethodPost, "/api/rules/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bad"`)

	h = NewAdminHandler(fakeReloader{err: errors.New("parsing ruleset")}, fakeSnapshots{}, &fakeTruncater{}, fakeWiper{}, zerolog.Nop())
	rec = do(http.HandlerFunc(h.ReloadRules), http.MethodPost, "/api/rules/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSnapshotAndReset(t *testing.T) {
	tr := &fakeTruncater{}
	h := NewAdminHandler(fakeReloader{}, fakeSnapshots{}, tr, fakeWiper{}, zerolog.Nop())

	rec := do(http.HandlerFunc(h.GetSnapshot), http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = NewAdminHandler(fakeReloader{}, fakeSnapshots{snap: &types.Snapshot{Type: "snapshot"}}, tr, fakeWiper{}, zerolog.Nop())
	rec = do(http.HandlerFunc(h.GetSnapshot), http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.HandlerFunc(h.ResetStore), http.MethodDelete, "/api/admin/store", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tr.called)
	assert.Contains(t, rec.Body.String(), `"interactionsCleared":3`)
}

// --- history ---

type fakeRecords struct {
	date    string
	records []types.InteractionRecord
}

func (f *fakeRecords) LoadInteractionRecords(_ context.Context, date string) ([]types.InteractionRecord, error) {
	f.date = date
	return f.records, nil
}

func TestHistoryFilters(t *testing.T) {
	store := &fakeRecords{records: []types.InteractionRecord{
		{ID: "1", Queue: "sales", AgentID: "a1"},
		{ID: "2", Queue: "support", AgentID: "a2"},
		{ID: "3", Queue: "sales", AgentID: "a2"},
	}}
	hh := NewHistoryHandler(store, clock.NewFake(testNow), zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/api/interactions", hh.GetInteractions)
	r.Get("/api/agents/{agentId}/interactions", hh.GetAgentInteractions)

	rec := do(r, http.MethodGet, "/api/interactions?queue=sales", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []types.InteractionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
	assert.Equal(t, "2026-03-02", store.date, "date defaults to today")

	rec = do(r, http.MethodGet, "/api/agents/a2/interactions?date=2026-02-28", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
	assert.Equal(t, "2026-02-28", store.date)

	rec = do(r, http.MethodGet, "/api/interactions?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- inbound ---

type fakeRunner struct {
	mu    sync.Mutex
	calls []inbound.Call
	done  chan struct{}
}

func (f *fakeRunner) Handle(_ context.Context, call inbound.Call) (inbound.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return inbound.Result{Action: types.ActionTransferQueue}, nil
}

func TestHandleInboundWait(t *testing.T) {
	runner := &fakeRunner{}
	h := NewInboundHandler(runner, context.Background(), zerolog.Nop())

	rec := do(http.HandlerFunc(h.HandleInbound), http.MethodPost, "/internal/calls/inbound?wait=true",
		`{"callId":"c-1","number":"+15550100","customerRef":"cust-1","menuId":"main"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "c-1", runner.calls[0].Handle.ID)
	assert.Equal(t, "main", runner.calls[0].MenuID)
}

func TestHandleInboundAsync(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{})}
	h := NewInboundHandler(runner, context.Background(), zerolog.Nop())

	rec := do(http.HandlerFunc(h.HandleInbound), http.MethodPost, "/internal/calls/inbound", `{"number":"+15550100"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("call was not run")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.NotEmpty(t, runner.calls[0].Handle.ID, "call id is generated")
}
