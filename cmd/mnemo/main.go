package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/buildconfig"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Offline tooling for the mnemo knowledge graph",
	Long:  `Inspect, maintain and export a mnemo graph snapshot without running the server.`,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph statistics from the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := loadGraph()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		stats := s.Stats()
		if asJSON {
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("Nodes:       %d (%d active, %d deprecated)\n", stats.Nodes, stats.ActiveNodes, stats.DeprecatedNodes)
		fmt.Printf("Edges:       %d\n", stats.Edges)
		fmt.Printf("Avg conf:    %.3f\n", stats.AvgConfidence)
		if stats.LastPassID != "" {
			fmt.Printf("Last pass:   %s\n", stats.LastPassID)
		}
		for t, n := range stats.ByType {
			fmt.Printf("  %-12s %d\n", t, n)
		}
		return nil
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run a maintenance pass over the snapshot",
	Long: `Loads the snapshot, runs decay, prune and rerank, and writes the
updated snapshot back. Deduplication is skipped because the offline
tool has no embedding provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, snapshots, err := loadGraph()
		if err != nil {
			return err
		}

		logger := zap.NewNop()
		if verbose {
			logger, _ = zap.NewDevelopment()
		}

		ranker := graph.NewRanker()
		maintainer := graph.NewMaintainer(s, ranker, nil, snapshots.Save, logger)
		result, err := maintainer.Run(context.Background(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("maintenance failed: %w", err)
		}

		fmt.Printf("Pass %s complete in %s\n", result.PassID, result.Duration.Round(time.Millisecond))
		fmt.Printf("  decayed:    %d\n", result.NodesDecayed)
		fmt.Printf("  deprecated: %d\n", result.NodesDeprecated)

		purge, _ := cmd.Flags().GetBool("purge")
		if purge {
			nodes, edges := s.Purge()
			fmt.Printf("  purged:     %d nodes, %d edges\n", nodes, edges)
			if err := snapshots.Save(s.Snapshot(time.Now().UTC())); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := loadGraph()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case "json":
			snap := s.Snapshot(time.Now().UTC())
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		case "cypher":
			exportCypher(out, s)
		case "d3":
			return exportD3(out, s)
		default:
			return fmt.Errorf("unknown format %q (want json, cypher or d3)", format)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mnemo version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mnemo %s (%s)\n", buildconfig.Version(), buildconfig.Commit())
	},
}

func loadGraph() (*graph.Store, *store.FileSnapshotStore, error) {
	snapshots, err := store.NewFileSnapshotStore(dataDir)
	if err != nil {
		return nil, nil, err
	}
	if recovered, err := snapshots.PendingRecovery(); err != nil {
		return nil, nil, err
	} else if recovered {
		fmt.Fprintln(os.Stderr, "warning: recovered from interrupted snapshot write")
	}
	snap, err := snapshots.Load()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("no snapshot found in %s", dataDir)
		}
		return nil, nil, err
	}
	s := graph.NewStore()
	if err := s.Restore(snap); err != nil {
		return nil, nil, err
	}
	return s, snapshots, nil
}

func exportCypher(out io.Writer, s *graph.Store) {
	for _, n := range s.Nodes() {
		fmt.Fprintf(out, "CREATE (:%s {id: %s, label: %s, confidence: %.3f, status: %s});\n",
			cypherLabel(n.Type), cypherString(n.ID), cypherString(n.DisplayLabel()),
			n.Confidence, cypherString(string(n.Status)))
	}
	for _, e := range s.Edges() {
		fmt.Fprintf(out, "MATCH (a {id: %s}), (b {id: %s}) CREATE (a)-[:%s {weight: %.3f}]->(b);\n",
			cypherString(e.Source), cypherString(e.Target),
			strings.ToUpper(string(e.Relation)), e.Weight)
	}
}

func cypherLabel(t domain.NodeType) string {
	s := string(t)
	if s == "" {
		return "Node"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func cypherString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}

type d3Node struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Group      string  `json:"group"`
	Confidence float64 `json:"confidence"`
}

type d3Link struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Relation string  `json:"relation"`
	Value    float64 `json:"value"`
}

func exportD3(out io.Writer, s *graph.Store) error {
	doc := struct {
		Nodes []d3Node `json:"nodes"`
		Links []d3Link `json:"links"`
	}{Nodes: []d3Node{}, Links: []d3Link{}}

	for _, n := range s.ActiveNodes() {
		doc.Nodes = append(doc.Nodes, d3Node{
			ID:         n.ID,
			Label:      n.DisplayLabel(),
			Group:      string(n.Type),
			Confidence: n.Confidence,
		})
	}
	active := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		active[n.ID] = struct{}{}
	}
	for _, e := range s.Edges() {
		if _, ok := active[e.Source]; !ok {
			continue
		}
		if _, ok := active[e.Target]; !ok {
			continue
		}
		doc.Links = append(doc.Links, d3Link{
			Source:   e.Source,
			Target:   e.Target,
			Relation: string(e.Relation),
			Value:    e.Weight,
		})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Directory holding the graph snapshot")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	statsCmd.Flags().Bool("json", false, "Output as JSON")
	maintainCmd.Flags().Bool("purge", false, "Permanently remove deprecated nodes after the pass")
	exportCmd.Flags().String("format", "json", "Export format: json, cypher or d3")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
