package service

import (
	"fmt"
	"sync"
)

// ToolPool limits how many invocations of each tool run at the same time.
// Per-tool limits apply on top of the dispatcher's worker pool.
type ToolPool struct {
	maxPerTool map[string]int // tool id -> max concurrent invocations
	current    map[string]int // tool id -> running invocations
	fallback   int
	mu         sync.Mutex
}

// NewToolPool creates a pool. Tools without an explicit limit get fallback.
func NewToolPool(limits map[string]int, fallback int) *ToolPool {
	if fallback < 1 {
		fallback = 1
	}
	p := &ToolPool{
		maxPerTool: make(map[string]int, len(limits)),
		current:    make(map[string]int),
		fallback:   fallback,
	}
	for tool, max := range limits {
		if max > 0 {
			p.maxPerTool[tool] = max
		}
	}
	return p
}

// TryAcquire takes a slot for tool. It returns false when the tool is saturated.
func (p *ToolPool) TryAcquire(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current[tool] >= p.max(tool) {
		return false
	}
	p.current[tool]++
	return true
}

// Release returns a slot for tool
func (p *ToolPool) Release(tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current[tool] > 0 {
		p.current[tool]--
	}
}

// Current returns the running invocations of tool
func (p *ToolPool) Current(tool string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[tool]
}

// Max returns the limit of tool
func (p *ToolPool) Max(tool string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max(tool)
}

func (p *ToolPool) max(tool string) int {
	if m, ok := p.maxPerTool[tool]; ok {
		return m
	}
	return p.fallback
}

// SetLimit updates the limit of tool
func (p *ToolPool) SetLimit(tool string, max int) error {
	if max < 1 {
		return fmt.Errorf("max must be >= 1, got: %d", max)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxPerTool[tool] = max
	return nil
}
