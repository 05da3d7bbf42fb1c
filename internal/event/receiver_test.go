package event

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []string
	last  any
}

func (p *recordingProcessor) record(kind string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind)
	p.last = v
}

func (p *recordingProcessor) ProcessRegister(reg *types.AgentRegister) { p.record("register", reg) }
func (p *recordingProcessor) ProcessHeartbeat(hb *types.AgentHeartbeat) {
	p.record("heartbeat", hb)
}
func (p *recordingProcessor) ProcessStateChange(sc *types.AgentStateChange) {
	p.record("state_change", sc)
}
func (p *recordingProcessor) ProcessInteractionComplete(ic *types.InteractionComplete) {
	p.record("interaction_complete", ic)
}
func (p *recordingProcessor) ProcessWrapUp(wu *types.AgentWrapUp) { p.record("wrap_up", wu) }
func (p *recordingProcessor) ProcessPreviewDecision(pd *types.PreviewDecision) {
	p.record(pd.Type, pd)
}

func post(r *Receiver, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/agent-event", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.HandleEvent(rec, req)
	return rec
}

func TestHandleEventDispatchesByType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"register", `{"type":"register","agentId":"a1","queues":["sales"]}`, "register"},
		{"heartbeat", `{"type":"heartbeat","agentId":"a1"}`, "heartbeat"},
		{"state change", `{"type":"state_change","agentId":"a1","state":"break"}`, "state_change"},
		{"complete", `{"type":"interaction_complete","agentId":"a1","interactionId":"i1","talkTime":30}`, "interaction_complete"},
		{"wrap up", `{"type":"wrap_up","agentId":"a1","campaignId":"c1","itemId":"x","disposition":"sale"}`, "wrap_up"},
		{"preview skip", `{"type":"preview_skip","agentId":"a1","campaignId":"c1"}`, "preview_skip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &recordingProcessor{}
			r := NewReceiver(proc, zerolog.Nop())

			rec := post(r, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if len(proc.calls) != 1 || proc.calls[0] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, proc.calls)
			}
		})
	}
}

func TestWrapUpCarriesAgent(t *testing.T) {
	proc := &recordingProcessor{}
	r := NewReceiver(proc, zerolog.Nop())

	post(r, `{"type":"wrap_up","agentId":"a7","campaignId":"c1","itemId":"x","disposition":"sale","converted":true}`)

	wu, ok := proc.last.(*types.AgentWrapUp)
	if !ok {
		t.Fatalf("expected *AgentWrapUp, got %T", proc.last)
	}
	if wu.AgentID != "a7" || !wu.Converted || wu.CampaignID != "c1" {
		t.Errorf("unexpected wrap-up %+v", wu)
	}
}

func TestHandleEventRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{not json`},
		{"missing agent", `{"type":"heartbeat"}`},
		{"unknown type", `{"type":"teleport","agentId":"a1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &recordingProcessor{}
			r := NewReceiver(proc, zerolog.Nop())

			rec := post(r, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if len(proc.calls) != 0 {
				t.Errorf("expected no processor calls, got %v", proc.calls)
			}
		})
	}
}

func TestHandleEventMethodNotAllowed(t *testing.T) {
	r := NewReceiver(&recordingProcessor{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/internal/agent-event", nil)
	rec := httptest.NewRecorder()
	r.HandleEvent(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
