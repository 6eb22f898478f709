package planner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   []anthropic.MessageRequest
	handler func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeBackend) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()
	return f.handler(call, req)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func newTestPlanner(backend anthropic.Client, howMany int) *Planner {
	caller := llm.NewCaller(backend, nil, time.Second, 1, nil)
	return New(caller, "test-model", howMany)
}

func validPlanJSON(n int) string {
	tags := model.AllSearchTags()
	out := `{"searches": [`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"reason": %q, "query": "suche %d"}`, tags[i], i)
	}
	return out + `]}`
}

func TestPlanParsesValidResponse(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(validPlanJSON(3)), nil
	}}
	p := newTestPlanner(backend, 3)

	plan, err := p.Plan(context.Background(), "Regal im Keller bauen")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, model.TagPreparation, plan.Tasks[0].Tag)
	assert.Equal(t, 1, backend.callCount())
}

func TestPlanRetriesMalformedThenSucceeds(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if call == 1 {
			return textResponse("das ist kein json"), nil
		}
		return textResponse("```json\n" + validPlanJSON(3) + "\n```"), nil
	}}
	p := newTestPlanner(backend, 3)

	plan, err := p.Plan(context.Background(), "Wand streichen")
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)
	assert.Equal(t, 2, backend.callCount())
}

func TestPlanRetrySharpensPrompt(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("kaputt"), nil
	}}
	p := newTestPlanner(backend, 3)

	_, err := p.Plan(context.Background(), "Wand streichen")
	require.NoError(t, err, "heuristic fallback keeps the job moving")
	require.Equal(t, parseAttempts, backend.callCount())

	assert.NotContains(t, backend.calls[0].System[0].Text, "JSON-Struktur ohne umgebenden Text")
	assert.Contains(t, backend.calls[1].System[0].Text, "typische DIY-Themen")
	assert.Contains(t, backend.calls[2].System[0].Text, "JSON-Struktur ohne umgebenden Text")
}

func TestPlanRejectShortCircuits(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("REJECT"), nil
	}}
	p := newTestPlanner(backend, 3)

	_, err := p.Plan(context.Background(), "Aktienkurs Apple")
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, backend.callCount())
}

func TestPlanHeuristicFallback(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"searches": []}`), nil
	}}
	p := newTestPlanner(backend, 3)

	plan, err := p.Plan(context.Background(), "Gartenzaun setzen")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, model.TagMaterials, plan.Tasks[0].Tag)
	assert.Contains(t, plan.Tasks[0].Query, "Gartenzaun setzen")
	assert.Equal(t, model.TagExecution, plan.Tasks[1].Tag)
	assert.Equal(t, model.TagSafety, plan.Tasks[2].Tag)
}

func TestPlanWrongSizeCountsAsMalformed(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(validPlanJSON(5)), nil
	}}
	p := newTestPlanner(backend, 3)

	_, err := p.Plan(context.Background(), "Tuer einbauen")
	require.NoError(t, err, "size mismatch degrades to the heuristic plan")
	assert.Equal(t, parseAttempts, backend.callCount())
}

func TestPlanTransportErrorPropagates(t *testing.T) {
	backend := &fakeBackend{handler: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("billing problem")
	}}
	p := newTestPlanner(backend, 3)

	_, err := p.Plan(context.Background(), "Dach daemmen")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, backend.callCount())
}

func TestEnsurePremiumSlot(t *testing.T) {
	base := model.SearchPlan{Tasks: []model.SearchTask{
		{Tag: model.TagMaterials, Query: "Laminat Auswahl"},
	}}

	got := ensurePremiumSlot(base, "Laminat im Wohnzimmer verlegen")
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, model.TagPremium, got.Tasks[1].Tag)
	assert.Contains(t, got.Tasks[1].Query, "Laminat im Wohnzimmer verlegen")
}

func TestEnsurePremiumSlotNoKeyword(t *testing.T) {
	base := model.SearchPlan{Tasks: []model.SearchTask{
		{Tag: model.TagExecution, Query: "Anleitung"},
	}}
	got := ensurePremiumSlot(base, "Lampe anschliessen")
	assert.Len(t, got.Tasks, 1)
}

func TestEnsurePremiumSlotAlreadyPresent(t *testing.T) {
	base := model.SearchPlan{Tasks: []model.SearchTask{
		{Tag: model.TagPremium, Query: "Markenvergleich"},
	}}
	got := ensurePremiumSlot(base, "Parkett schleifen")
	assert.Len(t, got.Tasks, 1)
}

func TestNewClampsPlanSize(t *testing.T) {
	caller := llm.NewCaller(&fakeBackend{}, nil, time.Second, 1, nil)
	assert.Equal(t, 3, New(caller, "m", 0).howMany)
	assert.Equal(t, 3, New(caller, "m", model.MaxPlanSize+1).howMany)
	assert.Equal(t, 5, New(caller, "m", 5).howMany)
}
