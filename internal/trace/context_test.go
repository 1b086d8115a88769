package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDRoundtrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	assert.Equal(t, "trace-1", GetTraceID(ctx))
}

func TestEmitFillsNodeFromAgent(t *testing.T) {
	var got []Event
	ctx := WithEmitter(context.Background(), func(ev Event) { got = append(got, ev) })
	ctx = WithAgent(ctx, "RAG_AGENT")

	Emit(ctx, Event{Kind: EventStage, Stage: "retrieve_context"})
	Emit(ctx, Event{Kind: EventTool, Node: "SEARCH_AGENT", Stage: "search_papers"})

	if assert.Len(t, got, 2) {
		assert.Equal(t, "RAG_AGENT", got[0].Node)
		assert.Equal(t, "SEARCH_AGENT", got[1].Node)
	}
}

func TestEmitWithoutEmitter(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), Event{Kind: EventNodeStart})
	})
}
