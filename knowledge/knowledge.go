// Package knowledge provides the retrieval collaborators the turn pipeline
// consults during augmentation. Retrieved chunks are appended to the system
// instructions of a turn, never to conversation history.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/voicemesh/internal/util"
)

// Chunk is one retrieved knowledge fragment.
type Chunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever looks up knowledge relevant to a query within an agent's corpus.
type Retriever interface {
	Search(ctx context.Context, agentID, query string, limit int) ([]Chunk, error)
}

// SessionMemory persists extracted facts per session for later recall and
// analytics. Implementations are best-effort collaborators; callers treat
// failures as non-fatal.
type SessionMemory interface {
	Put(sessionID string, facts map[string]any) error
	Get(sessionID string) (map[string]any, error)
}

// InMemoryKnowledge is a process-local Retriever and SessionMemory. Search is
// a linear scan scored by lexical token overlap between query and content.
// Suitable for tests and small corpora; swap for a vector index in
// production retrieval.
type InMemoryKnowledge struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk        // agentID -> corpus
	facts  map[string]map[string]any // sessionID -> extracted facts
}

// Compile time checks for the collaborator contracts.
var (
	_ Retriever     = (*InMemoryKnowledge)(nil)
	_ SessionMemory = (*InMemoryKnowledge)(nil)
)

// NewInMemoryKnowledge creates an empty store.
func NewInMemoryKnowledge() *InMemoryKnowledge {
	return &InMemoryKnowledge{
		chunks: make(map[string][]Chunk),
		facts:  make(map[string]map[string]any),
	}
}

// Add appends a document to an agent's corpus.
func (k *InMemoryKnowledge) Add(agentID, content string, metadata map[string]any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := fmt.Sprintf("kb_%d", len(k.chunks[agentID]))
	k.chunks[agentID] = append(k.chunks[agentID], Chunk{ID: id, Content: content, Metadata: metadata})
}

// Search implements Retriever. Results are ordered by descending overlap
// score; zero-score chunks are dropped.
func (k *InMemoryKnowledge) Search(ctx context.Context, agentID, query string, limit int) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if limit <= 0 {
		limit = 3
	}
	var hits []Chunk
	for _, c := range k.chunks[agentID] {
		score := util.OverlapRatio(query, c.Content)
		if score == 0 && !strings.Contains(strings.ToLower(c.Content), strings.ToLower(query)) {
			continue
		}
		hit := c
		hit.Score = score
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Put implements SessionMemory, merging facts into the session's map.
func (k *InMemoryKnowledge) Put(sessionID string, facts map[string]any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.facts[sessionID]; !ok {
		k.facts[sessionID] = make(map[string]any)
	}
	for key, v := range facts {
		k.facts[sessionID][key] = v
	}
	return nil
}

// Get implements SessionMemory, returning a shallow copy.
func (k *InMemoryKnowledge) Get(sessionID string) (map[string]any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]any, len(k.facts[sessionID]))
	for key, v := range k.facts[sessionID] {
		out[key] = v
	}
	return out, nil
}
