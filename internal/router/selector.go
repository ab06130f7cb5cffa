package router

import (
	"sync"

	"routecodex-go/internal/config"
	"routecodex-go/internal/pipeline"
)

// candidate is one pool entry that survived admission filtering,
// paired with its effective weight.
type candidate struct {
	p      *pipeline.Pipeline
	weight int
}

// effectiveWeight prefers the pool entry's weight over the pipeline
// definition's, defaulting to 1 so an unweighted pool degrades to
// plain round-robin.
func effectiveWeight(t config.RouteTarget, p *pipeline.Pipeline) int {
	if t.Weight > 0 {
		return t.Weight
	}
	if w := p.Def().Weight; w > 0 {
		return w
	}
	return 1
}

// selector implements smooth weighted round-robin per category. The
// current-weight maps persist across requests and snapshot swaps so a
// heavy pipeline does not burst after every reload; ties fall to the
// least recently used pipeline.
type selector struct {
	mu      sync.Mutex
	current map[string]map[string]int // category → pipelineID → current weight
}

func newSelector() *selector {
	return &selector{current: make(map[string]map[string]int)}
}

func (s *selector) pick(category string, candidates []candidate) *pipeline.Pipeline {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0].p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current[category]
	if cur == nil {
		cur = make(map[string]int)
		s.current[category] = cur
	}

	total := 0
	var best *pipeline.Pipeline
	bestWeight := 0
	for _, c := range candidates {
		id := c.p.Def().ID
		total += c.weight
		cur[id] += c.weight
		cw := cur[id]
		switch {
		case best == nil || cw > bestWeight:
			best, bestWeight = c.p, cw
		case cw == bestWeight && c.p.LastUsedUnixMs() < best.LastUsedUnixMs():
			best = c.p
		}
	}
	cur[best.Def().ID] -= total
	return best
}
