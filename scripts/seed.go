// Seed script for creating a demo knowledge graph snapshot.
// Run with: go run ./scripts/seed.go
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func main() {
	envFile := os.Getenv("MNEMO_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	snapshots, err := store.NewFileSnapshotStore(dataDir)
	if err != nil {
		log.Fatalf("Failed to create snapshot store: %v", err)
	}

	now := time.Now().UTC()
	s := graph.NewStore()

	type seedNode struct {
		t     domain.NodeType
		label string
		conf  float64
	}
	nodes := []seedNode{
		{domain.NodePerson, "Alice", 0.9},
		{domain.NodeTechnology, "Go", 0.85},
		{domain.NodeTechnology, "PostgreSQL", 0.8},
		{domain.NodeTechnology, "Redis", 0.7},
		{domain.NodeConcept, "caching", 0.6},
		{domain.NodeConcept, "database", 0.6},
		{domain.NodePreference, "Alice prefers table-driven tests", 0.75},
		{domain.NodeFact, "the service listens on port 8080", 0.65},
		{domain.NodeSkill, "query optimization", 0.5},
		{domain.NodeEntity, "mnemo", 0.9},
	}
	ids := make(map[string]string, len(nodes))
	for _, sn := range nodes {
		n, _ := s.UpsertNode(sn.t, sn.label, sn.conf, now)
		ids[sn.label] = n.ID
	}

	type seedEdge struct {
		src, dst string
		rel      domain.RelationType
	}
	edges := []seedEdge{
		{"PostgreSQL", "database", domain.RelIsA},
		{"Redis", "caching", domain.RelUsedIn},
		{"Alice", "Go", domain.RelKnows},
		{"Alice", "query optimization", domain.RelKnows},
		{"mnemo", "Go", domain.RelDependsOn},
		{"mnemo", "PostgreSQL", domain.RelDependsOn},
		{"Alice prefers table-driven tests", "Alice", domain.RelPreferredBy},
		{"caching", "database", domain.RelRelatesTo},
	}
	for _, se := range edges {
		if _, err := s.AddEdge(ids[se.src], ids[se.dst], se.rel, 1, now); err != nil {
			log.Fatalf("Failed to add edge %s -> %s: %v", se.src, se.dst, err)
		}
	}

	// One recorded mistake so the warning path has data.
	mistake, _ := s.UpsertNode(domain.NodeMistake, "the capital of australia is sydney", 0.3, now)
	_, err = s.Update(mistake.ID, func(n *domain.Node) {
		n.SetAttr(domain.AttrWrongClaim, "the capital of australia is sydney")
		n.SetAttr(domain.AttrCorrectClaim, "the capital of australia is canberra")
		n.SetAttr(domain.AttrQuestion, "what is the capital of australia")
	})
	if err != nil {
		log.Fatalf("Failed to annotate mistake: %v", err)
	}

	ranker := graph.NewRanker()
	ranker.Recompute(s)

	if err := snapshots.Save(s.Snapshot(now)); err != nil {
		log.Fatalf("Failed to save snapshot: %v", err)
	}

	stats := s.Stats()
	fmt.Printf("Seeded %d nodes and %d edges into %s\n", stats.Nodes, stats.Edges, dataDir)
	fmt.Println("Note: vector search needs the server to re-embed; seeded nodes are")
	fmt.Println("reachable by id and label until then.")
}
