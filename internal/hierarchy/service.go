package hierarchy

import (
	"sort"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

const (
	DefaultMaxDepth           = 10
	DefaultEmergencyAccessMax = 15 * time.Minute
)

// entry is one arena slot; the tree is the parentID index, never pointers.
type entry struct {
	ctx types.NodeContext
}

// ContextView is a node context as seen by a requester.
type ContextView struct {
	Context      types.NodeContext `json:"context"`
	Relationship Relationship      `json:"relationship"`
	AccessLevel  AccessLevel       `json:"accessLevel"`
}

// Service is the hierarchical context access service. Reads are concurrent;
// writes to one target node are serialized, writes to different nodes are not.
type Service struct {
	maxDepth     int
	emergencyMax time.Duration
	publisher    events.Publisher
	now          func() time.Time
	log          *zap.Logger

	mu    sync.RWMutex
	nodes map[string]*entry
	order []string
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithMaxDepth sets the deepest allowed hierarchy level.
func WithMaxDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithEmergencyAccessMax caps emergency access windows.
func WithEmergencyAccessMax(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.emergencyMax = d
		}
	}
}

// WithPublisher sets the event sink for registration, update and grant events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an empty hierarchy.
func NewService(opts ...Option) *Service {
	s := &Service{
		maxDepth:     DefaultMaxDepth,
		emergencyMax: DefaultEmergencyAccessMax,
		publisher:    events.Nop{},
		now:          time.Now,
		log:          logger.Named("hierarchy"),
		nodes:        make(map[string]*entry),
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDepth returns the configured maximum hierarchy level.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}

// Len returns the number of registered nodes.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// RegisterNode adds a node to the hierarchy. The parent does not need to be
// registered yet. Registering an existing id again with the same parent
// replaces its type, data and level; a different parent is rejected.
func (s *Service) RegisterNode(id, nodeType, parentID string, data map[string]any, level int) error {
	if id == "" {
		return newError(ErrCodeInvalidTarget, id, "node id is required")
	}
	if nodeType == "" {
		return newError(ErrCodeInvalidNodeType, id, "node type is required")
	}
	if parentID == id {
		return newError(ErrCodeCircularReference, id, "circular reference detected")
	}
	if level < 0 || level > s.maxDepth {
		return newError(ErrCodeDepthExceeded, id, "hierarchy depth exceeded")
	}

	s.mu.Lock()
	if existing, ok := s.nodes[id]; ok && existing.ctx.ParentNodeID != parentID {
		s.mu.Unlock()
		return newError(ErrCodeReparent, id, "node is already registered under a different parent")
	}
	// 沿父链向上走，若回到自身则成环；步数受 maxDepth 限制
	cur := parentID
	for steps := 0; cur != ""; steps++ {
		if cur == id {
			s.mu.Unlock()
			return newError(ErrCodeCircularReference, id, "circular reference detected")
		}
		if steps > s.maxDepth {
			s.mu.Unlock()
			return newError(ErrCodeDepthExceeded, id, "hierarchy depth exceeded")
		}
		parent, ok := s.nodes[cur]
		if !ok {
			break
		}
		cur = parent.ctx.ParentNodeID
	}

	if _, ok := s.nodes[id]; !ok {
		s.order = append(s.order, id)
		s.locks[id] = &sync.Mutex{}
	}
	s.nodes[id] = &entry{ctx: types.NodeContext{
		NodeID:         id,
		NodeType:       nodeType,
		ParentNodeID:   parentID,
		ContextData:    copyData(data),
		HierarchyLevel: level,
	}}
	s.mu.Unlock()

	s.publisher.Publish(events.Event{
		Type:        events.ContextNodeRegistered,
		AggregateID: id,
		NodeID:      id,
		Data: map[string]any{
			"nodeType":       nodeType,
			"parentNodeId":   parentID,
			"hierarchyLevel": level,
		},
	})
	return nil
}

// Resolve classifies target relative to requester and returns the access it
// grants. It has no side effects.
func (s *Service) Resolve(requesterID, targetID string) (Relationship, AccessLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, err := s.resolveLocked(requesterID, targetID)
	if err != nil {
		return RelationNone, AccessNone, err
	}
	return rel, rel.Access(), nil
}

func (s *Service) resolveLocked(requesterID, targetID string) (Relationship, error) {
	requester, ok := s.nodes[requesterID]
	if !ok {
		return RelationNone, newError(ErrCodeInvalidRequester, requesterID, "requesting node is not registered")
	}
	target, ok := s.nodes[targetID]
	if !ok {
		return RelationNone, newError(ErrCodeInvalidTarget, targetID, "target node is not registered")
	}
	if requesterID == targetID {
		return RelationSelf, nil
	}

	reqChain := s.ancestorsLocked(requesterID)
	for i, a := range reqChain {
		if a == targetID {
			if i == 0 {
				return RelationParent, nil
			}
			return RelationAncestor, nil
		}
	}
	tgtChain := s.ancestorsLocked(targetID)
	for i, a := range tgtChain {
		if a == requesterID {
			if i == 0 {
				return RelationChild, nil
			}
			return RelationDescendant, nil
		}
	}

	reqParent := requester.ctx.ParentNodeID
	tgtParent := target.ctx.ParentNodeID
	if reqParent != "" && reqParent == tgtParent {
		return RelationSibling, nil
	}
	// 叔伯关系：一方的父节点与另一方同父
	if len(reqChain) >= 2 && tgtParent != "" && reqChain[1] == tgtParent {
		return RelationLateral, nil
	}
	if len(tgtChain) >= 2 && reqParent != "" && tgtChain[1] == reqParent {
		return RelationLateral, nil
	}
	return RelationNone, nil
}

// ancestorsLocked returns parent, grandparent, ... up to maxDepth+1 ids.
// The last id may be an unregistered parent.
func (s *Service) ancestorsLocked(id string) []string {
	var chain []string
	cur := s.nodes[id].ctx.ParentNodeID
	for cur != "" && len(chain) <= s.maxDepth {
		chain = append(chain, cur)
		e, ok := s.nodes[cur]
		if !ok {
			break
		}
		cur = e.ctx.ParentNodeID
	}
	return chain
}

// GetNodeContext returns a node's own context with unrestricted write access.
func (s *Service) GetNodeContext(id string) (*ContextView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id]
	if !ok {
		return nil, newError(ErrCodeInvalidTarget, id, "node is not registered")
	}
	return &ContextView{Context: *e.ctx.Clone(), Relationship: RelationSelf, AccessLevel: AccessWrite}, nil
}

// GetAccessibleContexts returns every other node the requester can see, in
// registration order. Nodes without access are omitted; that is not an error.
func (s *Service) GetAccessibleContexts(requesterID string) ([]ContextView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[requesterID]; !ok {
		return nil, newError(ErrCodeInvalidRequester, requesterID, "requesting node is not registered")
	}

	var views []ContextView
	for _, id := range s.order {
		if id == requesterID {
			continue
		}
		rel, err := s.resolveLocked(requesterID, id)
		if err != nil {
			return nil, err
		}
		if rel.Access() == AccessNone {
			continue
		}
		views = append(views, s.viewLocked(id, rel))
	}
	return views, nil
}

// GetLateralContexts returns only uncle/aunt and nephew/niece relations with
// their diagnostic fields. No lateral relation yields ErrCodeNoLateral.
func (s *Service) GetLateralContexts(requesterID string) ([]ContextView, error) {
	views, err := s.GetAccessibleContexts(requesterID)
	if err != nil {
		return nil, err
	}
	var lateral []ContextView
	for _, v := range views {
		if v.Relationship == RelationLateral {
			lateral = append(lateral, v)
		}
	}
	if len(lateral) == 0 {
		return nil, newError(ErrCodeNoLateral, requesterID, "no lateral relationship found")
	}
	return lateral, nil
}

func (s *Service) viewLocked(id string, rel Relationship) ContextView {
	ctx := *s.nodes[id].ctx.Clone()
	if rel == RelationLateral {
		ctx.ContextData = diagnosticFields(ctx.ContextData)
	}
	return ContextView{Context: ctx, Relationship: rel, AccessLevel: rel.Access()}
}

// UpdateNodeContext shallow-merges newData into the target's context data.
// The updater must be the target itself or one of its ancestors.
func (s *Service) UpdateNodeContext(updaterID, targetID string, newData map[string]any) error {
	s.mu.RLock()
	rel, err := s.resolveLocked(updaterID, targetID)
	lock := s.locks[targetID]
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if !rel.Grants(AccessWrite) {
		return newError(ErrCodeInsufficientAccess, targetID, "insufficient access level")
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	merged := maputil.Merge(s.nodes[targetID].ctx.ContextData, newData)
	s.mu.RUnlock()

	s.mu.Lock()
	s.nodes[targetID].ctx.ContextData = merged
	s.mu.Unlock()

	keys := maputil.Keys(newData)
	sort.Strings(keys)
	s.publisher.Publish(events.Event{
		Type:        events.ContextUpdated,
		AggregateID: targetID,
		NodeID:      targetID,
		Data: map[string]any{
			"updaterId":    updaterID,
			"relationship": string(rel),
			"keys":         keys,
		},
	})
	return nil
}

// Snapshot returns clones of all registered contexts in registration order.
func (s *Service) Snapshot() []types.NodeContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.NodeContext, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.nodes[id].ctx.Clone())
	}
	return out
}

func copyData(data map[string]any) map[string]any {
	return maputil.Merge(data)
}
