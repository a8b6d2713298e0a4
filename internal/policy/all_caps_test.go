package policy

import (
	"context"
	"testing"

	"github.com/luthienresearch/luthien-proxy/internal/streamblock"
)

func TestAllCapsUppercasesResponseContent(t *testing.T) {
	p := AllCaps{}
	resp := map[string]any{
		"choices": []any{
			map[string]any{"delta": map[string]any{"content": "hello"}},
		},
	}

	out, err := p.PostCallSuccess(context.Background(), nil, resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)["content"]
	if got != "HELLO" {
		t.Fatalf("expected HELLO, got %v", got)
	}
}

func TestAllCapsStreamingChunkTracksCount(t *testing.T) {
	p := AllCaps{}
	sc := p.CreateStreamContext("stream-1", map[string]any{})

	chunk := map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}}}
	p.OnChunkReceived(context.Background(), sc, chunk)
	if sc.ChunkCount != 1 {
		t.Fatalf("expected chunk count 1, got %d", sc.ChunkCount)
	}
}

func TestAllCapsContentCompleteUppercasesBlock(t *testing.T) {
	p := AllCaps{}
	blk := streamblock.NewContentBlock(0, "")
	blk.Content.Text = "hi"
	blk.MarkComplete()

	out, err := p.OnContentComplete(context.Background(), nil, blk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content.Text != "HI" {
		t.Fatalf("expected HI, got %v", out.Content.Text)
	}
}

func TestAllCapsToolCallCompletePassesThrough(t *testing.T) {
	p := AllCaps{}
	blk := streamblock.NewToolCallBlock(0, "call_1", "search")
	blk.ToolCall.ArgumentsJSON = `{"q":"x"}`
	blk.MarkComplete()

	out, err := p.OnToolCallComplete(context.Background(), nil, blk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ToolCall.ArgumentsJSON != `{"q":"x"}` {
		t.Fatalf("expected unchanged arguments, got %v", out.ToolCall.ArgumentsJSON)
	}
}

func TestAllCapsPassesThroughMalformedPayload(t *testing.T) {
	p := AllCaps{}
	malformed := map[string]any{"choices": "not-a-list"}
	out, err := p.PostCallSuccess(context.Background(), nil, malformed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["choices"] != "not-a-list" {
		t.Fatalf("expected malformed payload returned unchanged, got %v", out)
	}
}

func TestNoOpReturnsResponseUnchanged(t *testing.T) {
	p := NoOp{}
	resp := map[string]any{"content": "hello"}
	out, err := p.PostCallSuccess(context.Background(), nil, resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["content"] != "hello" {
		t.Fatalf("expected unchanged response, got %v", out)
	}
}
