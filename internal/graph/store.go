package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Store is the in-memory knowledge graph. All reads and writes go
// through the store's lock; callers never hold node pointers across
// calls, they get copies.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*domain.Node
	edges map[domain.EdgeKey]*domain.Edge

	// out/in index edges by endpoint for neighbor walks and rewiring.
	out map[string]map[domain.EdgeKey]struct{}
	in  map[string]map[domain.EdgeKey]struct{}

	// labels resolves (type, normalized label) to a node id.
	labels map[labelKey]string

	lastPassID string
	stage      string
}

type labelKey struct {
	Type  domain.NodeType
	Label string
}

func NewStore() *Store {
	return &Store{
		nodes:  make(map[string]*domain.Node),
		edges:  make(map[domain.EdgeKey]*domain.Edge),
		out:    make(map[string]map[domain.EdgeKey]struct{}),
		in:     make(map[string]map[domain.EdgeKey]struct{}),
		labels: make(map[labelKey]string),
	}
}

func cloneNode(n *domain.Node) *domain.Node {
	c := *n
	if n.Attributes != nil {
		c.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// UpsertNode inserts a candidate node or reinforces the existing node
// with the same (type, normalized label). It returns the stored node
// and whether it was newly created.
func (s *Store) UpsertNode(t domain.NodeType, label string, confidence float64, now time.Time) (*domain.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := labelKey{Type: t, Label: domain.NormalizeLabel(label)}
	if id, ok := s.labels[key]; ok {
		n := s.nodes[id]
		Reinforce(n, now)
		return cloneNode(n), false
	}
	n := domain.NewNode(t, label, ClampConfidence(confidence), now)
	s.nodes[n.ID] = n
	s.labels[key] = n.ID
	return cloneNode(n), true
}

// Put stores a fully-formed node, replacing any node with the same id.
// Used by snapshot restore and tests.
func (s *Store) Put(n *domain.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(cloneNode(n))
}

func (s *Store) putLocked(n *domain.Node) {
	if old, ok := s.nodes[n.ID]; ok {
		delete(s.labels, labelKey{Type: old.Type, Label: old.Label})
	}
	s.nodes[n.ID] = n
	s.labels[labelKey{Type: n.Type, Label: n.Label}] = n.ID
}

// Get returns a copy of the node with the given id.
func (s *Store) Get(id string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	return cloneNode(n), nil
}

// FindByLabel resolves a (type, label) pair to its node, if present.
func (s *Store) FindByLabel(t domain.NodeType, label string) (*domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.labels[labelKey{Type: t, Label: domain.NormalizeLabel(label)}]
	if !ok {
		return nil, false
	}
	return cloneNode(s.nodes[id]), true
}

// FindByLabelAnyType resolves a normalized label across all node
// types, preferring active nodes and higher confidence.
func (s *Store) FindByLabelAnyType(label string) (*domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := domain.NormalizeLabel(label)
	var best *domain.Node
	for key, id := range s.labels {
		if key.Label != norm {
			continue
		}
		n := s.nodes[id]
		if best == nil {
			best = n
			continue
		}
		if n.Active() != best.Active() {
			if n.Active() {
				best = n
			}
			continue
		}
		if n.Confidence > best.Confidence {
			best = n
		}
	}
	if best == nil {
		return nil, false
	}
	return cloneNode(best), true
}

// Update applies fn to the node with the given id under the write
// lock and returns the updated copy.
func (s *Store) Update(id string, fn func(*domain.Node)) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	fn(n)
	n.Confidence = ClampConfidence(n.Confidence)
	return cloneNode(n), nil
}

// Apply is Update for mutations that can be rejected. fn runs on a
// clone; the store commits the clone only when fn returns nil, so a
// rejected mutation leaves the node untouched.
func (s *Store) Apply(id string, fn func(*domain.Node) error) (*domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	next := cloneNode(n)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Confidence = ClampConfidence(next.Confidence)
	s.nodes[id] = next
	return cloneNode(next), nil
}

// AddEdge links two existing nodes. Re-inserting an existing
// (source, target, relation) triple accumulates the weight, so
// repeated co-occurrence strengthens the edge.
func (s *Store) AddEdge(source, target string, rel domain.RelationType, weight float64, now time.Time) (*domain.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[source]; !ok {
		return nil, fmt.Errorf("edge source %s: %w", source, domain.ErrIntegrity)
	}
	if _, ok := s.nodes[target]; !ok {
		return nil, fmt.Errorf("edge target %s: %w", target, domain.ErrIntegrity)
	}
	if source == target {
		return nil, fmt.Errorf("self edge on %s: %w", source, domain.ErrIntegrity)
	}

	key := domain.EdgeKey{Source: source, Target: target, Relation: rel}
	if e, ok := s.edges[key]; ok {
		e.Weight += weight
		c := *e
		return &c, nil
	}
	e := &domain.Edge{Source: source, Target: target, Relation: rel, Weight: weight, CreatedAt: now}
	s.edges[key] = e
	s.indexEdgeLocked(key)
	c := *e
	return &c, nil
}

func (s *Store) indexEdgeLocked(key domain.EdgeKey) {
	if s.out[key.Source] == nil {
		s.out[key.Source] = make(map[domain.EdgeKey]struct{})
	}
	s.out[key.Source][key] = struct{}{}
	if s.in[key.Target] == nil {
		s.in[key.Target] = make(map[domain.EdgeKey]struct{})
	}
	s.in[key.Target][key] = struct{}{}
}

func (s *Store) removeEdgeLocked(key domain.EdgeKey) {
	delete(s.edges, key)
	delete(s.out[key.Source], key)
	delete(s.in[key.Target], key)
}

// Neighbors returns the edges touching a node together with the nodes
// on the far end.
func (s *Store) Neighbors(id string) ([]*domain.Edge, []*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	var edges []*domain.Edge
	seen := make(map[string]struct{})
	var nodes []*domain.Node
	collect := func(keys map[domain.EdgeKey]struct{}) {
		for key := range keys {
			e := s.edges[key]
			c := *e
			edges = append(edges, &c)
			other := key.Source
			if other == id {
				other = key.Target
			}
			if _, ok := seen[other]; !ok {
				seen[other] = struct{}{}
				nodes = append(nodes, cloneNode(s.nodes[other]))
			}
		}
	}
	collect(s.out[id])
	collect(s.in[id])
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Relation < edges[j].Relation
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return edges, nodes, nil
}

// Nodes returns copies of every node, active and deprecated.
func (s *Store) Nodes() []*domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveNodes returns copies of the active nodes only.
func (s *Store) ActiveNodes() []*domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Node
	for _, n := range s.nodes {
		if n.Active() {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns copies of every edge.
func (s *Store) Edges() []*domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Relation < out[j].Relation
	})
	return out
}

// Merge folds the duplicate node into the survivor: edges are rewired
// to the survivor, confidence takes the max, use counts add, and the
// duplicate is deprecated with a pointer back to the survivor. Edges
// that would become self loops or duplicate an existing survivor edge
// are dropped.
func (s *Store) Merge(survivorID, duplicateID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	surv, ok := s.nodes[survivorID]
	if !ok {
		return fmt.Errorf("merge survivor %s: %w", survivorID, domain.ErrNotFound)
	}
	dup, ok := s.nodes[duplicateID]
	if !ok {
		return fmt.Errorf("merge duplicate %s: %w", duplicateID, domain.ErrNotFound)
	}
	if survivorID == duplicateID {
		return nil
	}

	if dup.Confidence > surv.Confidence {
		surv.Confidence = dup.Confidence
	}
	surv.UseCount += dup.UseCount
	for k, v := range dup.Attributes {
		if k == domain.AttrDisplayLabel || k == domain.AttrMergedInto {
			continue
		}
		if _, exists := surv.Attributes[k]; !exists {
			surv.SetAttr(k, v)
		}
	}
	if dup.CreatedAt.Before(surv.CreatedAt) {
		surv.CreatedAt = dup.CreatedAt
	}
	surv.UpdatedAt = now

	rewire := func(keys map[domain.EdgeKey]struct{}) {
		for key := range keys {
			e := s.edges[key]
			s.removeEdgeLocked(key)
			src, dst := e.Source, e.Target
			if src == duplicateID {
				src = survivorID
			}
			if dst == duplicateID {
				dst = survivorID
			}
			if src == dst {
				continue
			}
			nk := domain.EdgeKey{Source: src, Target: dst, Relation: e.Relation}
			if existing, ok := s.edges[nk]; ok {
				existing.Weight += e.Weight
				continue
			}
			s.edges[nk] = &domain.Edge{Source: src, Target: dst, Relation: e.Relation, Weight: e.Weight, CreatedAt: e.CreatedAt}
			s.indexEdgeLocked(nk)
		}
	}
	// Copy key sets first since rewiring mutates the indexes.
	outKeys := make(map[domain.EdgeKey]struct{}, len(s.out[duplicateID]))
	for k := range s.out[duplicateID] {
		outKeys[k] = struct{}{}
	}
	inKeys := make(map[domain.EdgeKey]struct{}, len(s.in[duplicateID]))
	for k := range s.in[duplicateID] {
		inKeys[k] = struct{}{}
	}
	rewire(outKeys)
	rewire(inKeys)

	delete(s.labels, labelKey{Type: dup.Type, Label: dup.Label})
	dup.Status = domain.StatusDeprecated
	dup.SetAttr(domain.AttrMergedInto, survivorID)
	dup.UpdatedAt = now
	return nil
}

// Stats summarizes the graph for monitoring.
type Stats struct {
	Nodes           int                     `json:"nodes"`
	ActiveNodes     int                     `json:"active_nodes"`
	DeprecatedNodes int                     `json:"deprecated_nodes"`
	Edges           int                     `json:"edges"`
	Contradictions  int                     `json:"contradictions"`
	ByType          map[domain.NodeType]int `json:"by_type"`
	AvgConfidence   float64                 `json:"avg_confidence"`
	LastPassID      string                  `json:"last_maintenance_pass_id,omitempty"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByType: make(map[domain.NodeType]int), LastPassID: s.lastPassID}
	var sum float64
	for _, n := range s.nodes {
		st.Nodes++
		if n.Active() {
			st.ActiveNodes++
			st.ByType[n.Type]++
			sum += n.Confidence
		} else {
			st.DeprecatedNodes++
		}
	}
	st.Edges = len(s.edges)
	for key := range s.edges {
		if key.Relation == domain.RelContradicts {
			st.Contradictions++
		}
	}
	if st.ActiveNodes > 0 {
		st.AvgConfidence = sum / float64(st.ActiveNodes)
	}
	return st
}

// Snapshot captures the whole graph as a durable document.
func (s *Store) Snapshot(now time.Time) *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &domain.Snapshot{
		Version:               domain.SnapshotVersion,
		SavedAt:               now,
		LastMaintenancePassID: s.lastPassID,
		MaintenanceStage:      s.stage,
	}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, cloneNode(n))
	}
	for _, e := range s.edges {
		c := *e
		snap.Edges = append(snap.Edges, &c)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, b := snap.Edges[i], snap.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Relation < b.Relation
	})
	return snap
}

// Restore replaces the whole graph with the snapshot contents. Edges
// referencing missing nodes are rejected.
func (s *Store) Restore(snap *domain.Snapshot) error {
	if snap.Version != domain.SnapshotVersion {
		return fmt.Errorf("snapshot version %d unsupported: %w", snap.Version, domain.ErrPersistenceFailure)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make(map[string]*domain.Node, len(snap.Nodes))
	labels := make(map[labelKey]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.ID == "" {
			return fmt.Errorf("snapshot node without id: %w", domain.ErrIntegrity)
		}
		c := cloneNode(n)
		c.Confidence = ClampConfidence(c.Confidence)
		nodes[c.ID] = c
		key := labelKey{Type: c.Type, Label: c.Label}
		if prev, ok := labels[key]; !ok || !nodes[prev].Active() {
			labels[key] = c.ID
		}
	}
	edges := make(map[domain.EdgeKey]*domain.Edge, len(snap.Edges))
	out := make(map[string]map[domain.EdgeKey]struct{})
	in := make(map[string]map[domain.EdgeKey]struct{})
	for _, e := range snap.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return fmt.Errorf("snapshot edge source %s missing: %w", e.Source, domain.ErrIntegrity)
		}
		if _, ok := nodes[e.Target]; !ok {
			return fmt.Errorf("snapshot edge target %s missing: %w", e.Target, domain.ErrIntegrity)
		}
		c := *e
		key := c.Key()
		edges[key] = &c
		if out[key.Source] == nil {
			out[key.Source] = make(map[domain.EdgeKey]struct{})
		}
		out[key.Source][key] = struct{}{}
		if in[key.Target] == nil {
			in[key.Target] = make(map[domain.EdgeKey]struct{})
		}
		in[key.Target][key] = struct{}{}
	}

	s.nodes = nodes
	s.labels = labels
	s.edges = edges
	s.out = out
	s.in = in
	s.lastPassID = snap.LastMaintenancePassID
	s.stage = snap.MaintenanceStage
	return nil
}

// MaintenanceState reports the last completed pass id and the stage
// marker left by an interrupted pass, if any.
func (s *Store) MaintenanceState() (passID, stage string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPassID, s.stage
}

// SetMaintenanceState records pass progress so an interrupted pass
// can resume from its stage after restart.
func (s *Store) SetMaintenanceState(passID, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPassID = passID
	s.stage = stage
}

// Purge permanently removes deprecated nodes and their incident edges.
// Normal maintenance keeps deprecated nodes around as tombstones; purge
// is an explicit offline operation.
func (s *Store) Purge() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.nodes {
		if n.Active() {
			continue
		}
		for key := range s.out[id] {
			s.removeEdgeLocked(key)
			edges++
		}
		for key := range s.in[id] {
			s.removeEdgeLocked(key)
			edges++
		}
		delete(s.out, id)
		delete(s.in, id)
		if s.labels[labelKey{Type: n.Type, Label: n.Label}] == id {
			delete(s.labels, labelKey{Type: n.Type, Label: n.Label})
		}
		delete(s.nodes, id)
		nodes++
	}
	return nodes, edges
}
