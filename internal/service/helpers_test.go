package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// memVectorIndex is a token-overlap similarity index, deterministic
// and good enough to exercise dedup and mistake lookup paths.
type memVectorIndex struct {
	mu    sync.Mutex
	items map[string]map[string]memVectorItem // collection -> item id
	fail  bool
}

type memVectorItem struct {
	text string
	meta map[string]string
}

func newMemVectorIndex() *memVectorIndex {
	return &memVectorIndex{items: make(map[string]map[string]memVectorItem)}
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		out[tok] = struct{}{}
	}
	return out
}

// jaccard similarity over token sets.
func textSimilarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func (f *memVectorIndex) Index(ctx context.Context, collection, itemID, text string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items[collection] == nil {
		f.items[collection] = make(map[string]memVectorItem)
	}
	f.items[collection][itemID] = memVectorItem{text: text, meta: meta}
	return nil
}

func (f *memVectorIndex) Similar(ctx context.Context, collection, text string, topK int, threshold float64) ([]domain.VectorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("vector index unavailable")
	}
	var out []domain.VectorMatch
	for id, item := range f.items[collection] {
		sim := textSimilarity(text, item.text)
		if sim < threshold {
			continue
		}
		out = append(out, domain.VectorMatch{ItemID: id, Text: item.text, Similarity: sim, Metadata: item.meta})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ItemID < out[j].ItemID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *memVectorIndex) Remove(ctx context.Context, collection, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items[collection], itemID)
	return nil
}

func (f *memVectorIndex) Close() error { return nil }

// memInteractionStore keeps the interaction log in memory.
type memInteractionStore struct {
	mu        sync.Mutex
	all       []*domain.Interaction
	processed map[string]bool
	failMark  bool
}

func newMemInteractionStore() *memInteractionStore {
	return &memInteractionStore{processed: make(map[string]bool)}
}

func (s *memInteractionStore) Append(ctx context.Context, in *domain.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	s.all = append(s.all, in)
	return nil
}

func (s *memInteractionStore) Unprocessed(ctx context.Context, limit int) ([]*domain.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Interaction
	for _, in := range s.all {
		if s.processed[in.ID] {
			continue
		}
		out = append(out, in)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memInteractionStore) MarkProcessed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark {
		return errors.New("interaction log unavailable")
	}
	for _, id := range ids {
		s.processed[id] = true
	}
	return nil
}

func (s *memInteractionStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all), nil
}

func (s *memInteractionStore) UnprocessedCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.all {
		if !s.processed[in.ID] {
			n++
		}
	}
	return n, nil
}

func (s *memInteractionStore) Close() error { return nil }

// memSnapshotStore keeps saves in memory and can be made to fail.
type memSnapshotStore struct {
	mu    sync.Mutex
	saved []*domain.Snapshot
	fail  bool
}

func (s *memSnapshotStore) Save(snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memSnapshotStore) Load() (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, domain.ErrNotFound
	}
	return s.saved[len(s.saved)-1], nil
}

func (s *memSnapshotStore) PendingRecovery() (bool, error) { return false, nil }

// memJournal collects entries for assertions.
type memJournal struct {
	mu      sync.Mutex
	entries []*domain.JournalEntry
}

func (j *memJournal) Record(e *domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}
