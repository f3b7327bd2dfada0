package core

import (
	"context"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// AssembleContext builds a token-bounded context block for one LLM turn.
//
// The algorithm:
//  1. Embed the query text; on embedding failure or an expired deadline,
//     skip memory retrieval and assemble from recent messages alone
//     (degradation, flagged via MemoriesOmitted, never a hard failure)
//  2. Retrieve and rank the owner's top candidates
//  3. Pack greedily: recent messages first, most-recent kept when over
//     budget, then ranked memories into the remaining budget; a memory
//     that does not fit is skipped whole, never truncated
//  4. Access-track only the memory IDs actually included
//
// The returned fragments are ordered memories first (by rank), then
// messages in conversation order. Token counting uses the engine's
// pluggable TokenCounter.
//
// Edge cases: an owner with no memories yields a messages-only block
// (valid, not an error); a budget smaller than the single most recent
// message yields that one message, with sub-message truncation left to
// the caller.
//
// Example:
//
//	block, err := engine.AssembleContext(ctx, "user_001",
//	    "What language does the user like?",
//	    recentMessages, 2048,
//	)
func (e *Engine) AssembleContext(ctx context.Context, ownerID, queryText string, recentMessages []Message, tokenBudget int, opts ...AssembleOption) (*ContextBlock, error) {
	if e.closed.Load() {
		return nil, NewEngineError("AssembleContext", ErrEngineClosed)
	}
	if ownerID == "" {
		return nil, NewEngineError("AssembleContext", ErrInvalidInput)
	}

	o := applyAssembleOptions(opts)

	messages, used := e.packMessages(recentMessages, tokenBudget)

	memories, omitted := e.retrieveForAssembly(ctx, ownerID, queryText, o)

	block := &ContextBlock{MemoriesOmitted: omitted}
	var included []int64

	for _, m := range memories {
		t := e.counter(m.Content)
		if used+t > tokenBudget {
			continue
		}
		block.Fragments = append(block.Fragments, Fragment{
			Kind:     FragmentMemory,
			Content:  m.Content,
			Tokens:   t,
			MemoryID: m.ID,
		})
		used += t
		included = append(included, m.ID)
	}

	block.Fragments = append(block.Fragments, messages...)
	block.TotalTokens = used

	if len(included) > 0 {
		e.touch.Enqueue(ownerID, included...)
	}

	return block, nil
}

// packMessages selects recent messages most-recent-first until the budget
// is exhausted, returning them in conversation order along with their
// token cost. When not even the most recent message fits, it is returned
// alone so the caller can truncate it with its own tokenizer.
func (e *Engine) packMessages(recentMessages []Message, tokenBudget int) ([]Fragment, int) {
	if len(recentMessages) == 0 {
		return nil, 0
	}

	var picked []Fragment
	used := 0
	for i := len(recentMessages) - 1; i >= 0; i-- {
		msg := recentMessages[i]
		t := e.counter(msg.Content)
		if used+t > tokenBudget {
			break
		}
		picked = append(picked, Fragment{
			Kind:    FragmentMessage,
			Content: msg.Content,
			Tokens:  t,
			Role:    msg.Role,
		})
		used += t
	}

	if len(picked) == 0 {
		last := recentMessages[len(recentMessages)-1]
		t := e.counter(last.Content)
		return []Fragment{{
			Kind:    FragmentMessage,
			Content: last.Content,
			Tokens:  t,
			Role:    last.Role,
		}}, t
	}

	// picked is newest-first; flip back to conversation order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked, used
}

// retrieveForAssembly fetches and ranks memory candidates, degrading to
// an empty set (flagged) on any failure so the LLM turn still proceeds.
func (e *Engine) retrieveForAssembly(ctx context.Context, ownerID, queryText string, o *assembleOptions) ([]*MemoryRecord, bool) {
	if queryText == "" {
		return nil, false
	}
	if ctx.Err() != nil {
		e.logger.Debug("assembly deadline hit before retrieval", "owner", ownerID)
		return nil, true
	}

	queryEmb, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		e.logger.Warn("assembly embedding failed, degrading", "owner", ownerID, "err", err)
		return nil, true
	}

	n := o.candidateCount
	if n <= 0 {
		n = e.config.Engine.CandidateCount
	}

	var filters *storage.Filters
	if len(o.memoryTypes) > 0 {
		types := make([]string, len(o.memoryTypes))
		for i, t := range o.memoryTypes {
			types[i] = string(t)
		}
		filters = &storage.Filters{MemoryTypes: types}
	}

	recs, err := e.store.Query(ctx, ownerID, queryEmb, &storage.QueryOptions{
		K:       n,
		Filters: filters,
	})
	if err != nil {
		e.logger.Warn("assembly retrieval failed, degrading", "owner", ownerID, "err", err)
		return nil, true
	}

	return e.rankRecords(recs, len(recs)), false
}
