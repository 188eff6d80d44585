package executor

import (
	"fmt"
	"sort"
	"sync"

	"yqhp/orchestration-engine/pkg/types"
)

// Registry 管理动作处理器的注册和查找，按动作类型分派。
type Registry struct {
	handlers map[types.ActionType]Handler
	mu       sync.RWMutex
}

// NewRegistry 创建一个新的处理器注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.ActionType]Handler)}
}

// Register 为处理器的类型注册处理器；重复注册返回错误。
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("不能注册空处理器")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("处理器类型不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("处理器类型已注册: %s", t)
	}
	r.handlers[t] = h
	return nil
}

// MustRegister 注册处理器，如果出错则 panic。
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Replace registers h, overwriting any handler of the same type.
func (r *Registry) Replace(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get 按类型获取处理器，不存在时返回错误。
func (r *Registry) Get(t types.ActionType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, NewHandlerNotFoundError(string(t))
	}
	return h, nil
}

// Has 检查给定类型是否已注册处理器。
func (r *Registry) Has(t types.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types 返回所有已注册的类型，已排序。
func (r *Registry) Types() []types.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
