package graph

import (
	"context"
	"sync"
)

// Memory is the in-process Store used in tests and single-node runs.
type Memory struct {
	mu       sync.Mutex
	entities map[string]struct{}
	edges    map[string]Edge
	gaps     []Gap
}

// NewMemory creates an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]struct{}),
		edges:    make(map[string]Edge),
	}
}

func (m *Memory) UpsertEntity(_ context.Context, label, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[label+"\x1f"+key] = struct{}{}
	return nil
}

func (m *Memory) MaterializeEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.edges[edge.ClaimID]; exists {
		return nil
	}
	m.edges[edge.ClaimID] = edge
	return nil
}

func (m *Memory) RetractEdge(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, claimID)
	return nil
}

func (m *Memory) GapQuery(_ context.Context, criteria GapCriteria) ([]Gap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Gap
	for _, g := range m.gaps {
		if criteria.Predicate != "" && g.Predicate != criteria.Predicate {
			continue
		}
		out = append(out, g)
		if criteria.Limit > 0 && len(out) == criteria.Limit {
			break
		}
	}
	return out, nil
}

// SeedGap registers a gap candidate returned by subsequent queries.
func (m *Memory) SeedGap(g Gap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps = append(m.gaps, g)
}

// Edge returns the materialized edge for a claim id, if any.
func (m *Memory) Edge(claimID string) (Edge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[claimID]
	return e, ok
}

// EdgeCount returns the number of materialized edges.
func (m *Memory) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}
