package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"yqhp/orchestration-engine/pkg/types"
)

// KnowledgeBase resolves a named knowledge source to a JSON-like document.
type KnowledgeBase interface {
	Document(ctx context.Context, source string) (any, error)
}

// StaticKnowledge is an in-memory KnowledgeBase.
type StaticKnowledge struct {
	mu   sync.RWMutex
	docs map[string]any
}

// NewStaticKnowledge creates an empty knowledge base.
func NewStaticKnowledge() *StaticKnowledge {
	return &StaticKnowledge{docs: make(map[string]any)}
}

// Put stores a document under a source name.
func (k *StaticKnowledge) Put(source string, doc any) {
	k.mu.Lock()
	k.docs[source] = doc
	k.mu.Unlock()
}

// PutJSON parses and stores a JSON document.
func (k *StaticKnowledge) PutJSON(source, data string) error {
	doc, err := oj.ParseString(data)
	if err != nil {
		return fmt.Errorf("parse knowledge source %s: %w", source, err)
	}
	k.Put(source, doc)
	return nil
}

// Document implements KnowledgeBase.
func (k *StaticKnowledge) Document(_ context.Context, source string) (any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	doc, ok := k.docs[source]
	if !ok {
		return nil, fmt.Errorf("knowledge source %s not found", source)
	}
	return doc, nil
}

// KnowledgeLookupHandler evaluates a JSONPath query against a knowledge source.
//
// Config keys: query (required JSONPath), source (knowledge base name, or
// "inputs" for upstream outputs), document (inline JSON, overrides source),
// index, default, required (fail on no match instead of returning nil).
type KnowledgeLookupHandler struct {
	kb KnowledgeBase
}

// NewKnowledgeLookupHandler creates a handler over kb; kb may be nil when
// actions only query inputs or inline documents.
func NewKnowledgeLookupHandler(kb KnowledgeBase) *KnowledgeLookupHandler {
	return &KnowledgeLookupHandler{kb: kb}
}

// Type implements Handler.
func (h *KnowledgeLookupHandler) Type() types.ActionType {
	return types.ActionKnowledgeLookup
}

// Execute implements Handler.
func (h *KnowledgeLookupHandler) Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error) {
	query := stringParam(action.Config, "query")
	if query == "" {
		return nil, NewConfigError(action.ID, "knowledge_lookup requires config.query")
	}
	path, err := jp.ParseString(query)
	if err != nil {
		return nil, NewConfigError(action.ID, fmt.Sprintf("invalid JSONPath '%s': %v", query, err))
	}

	doc, err := h.document(ctx, action, actx)
	if err != nil {
		return nil, err
	}

	results := path.Get(doc)
	if idx, ok := intParam(action.Config, "index"); ok {
		if idx < 0 || idx >= len(results) {
			results = nil
		} else {
			results = results[idx : idx+1]
		}
	}

	switch len(results) {
	case 0:
		if def, ok := action.Config["default"]; ok {
			return def, nil
		}
		if boolParam(action.Config, "required") {
			return nil, NewExecutionError(action.ID, fmt.Sprintf("JSONPath '%s' returned no results", query), nil)
		}
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (h *KnowledgeLookupHandler) document(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error) {
	if inline := stringParam(action.Config, "document"); inline != "" {
		doc, err := oj.ParseString(inline)
		if err != nil {
			return nil, NewConfigError(action.ID, fmt.Sprintf("invalid inline document: %v", err))
		}
		return doc, nil
	}

	source := stringParam(action.Config, "source")
	if source == "" || source == "inputs" {
		if actx == nil || actx.Inputs == nil {
			return map[string]any{}, nil
		}
		return actx.Inputs, nil
	}
	if h.kb == nil {
		return nil, NewConfigError(action.ID, "no knowledge base configured")
	}
	doc, err := h.kb.Document(ctx, source)
	if err != nil {
		return nil, NewExecutionError(action.ID, "knowledge source unavailable", err)
	}
	return doc, nil
}
