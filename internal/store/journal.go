package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// FileJournal appends reflection outcomes to a JSON-lines log and
// mirrors each entry as a Markdown note for humans.
type FileJournal struct {
	dir string
}

var _ domain.Journal = (*FileJournal)(nil)

func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &FileJournal{dir: dir}, nil
}

func (j *FileJournal) Record(entry *domain.JournalEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(j.dir, "journal.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", domain.ErrPersistenceFailure)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	note := fmt.Sprintf("## Reflection %s\n\n%s\n\n- interactions: %d\n- quality: %.2f\n- learnings applied: %d\n- corrections: %d\n- insights added: %d\n- nodes deprecated: %d\n- nodes merged: %d\n",
		entry.CompletedAt.UTC().Format("2006-01-02 15:04"),
		entry.Summary,
		entry.InteractionCount,
		entry.QualityScore,
		entry.LearningsApplied,
		entry.CorrectionsMade,
		entry.InsightsAdded,
		entry.NodesDeprecated,
		entry.NodesMerged)
	md, err := os.OpenFile(filepath.Join(j.dir, "journal.md"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal notes: %w", err)
	}
	defer md.Close()
	if _, err := md.WriteString(note + "\n"); err != nil {
		return fmt.Errorf("append journal notes: %w", err)
	}
	return nil
}

// Latest returns the n most recent journal entries, newest first.
// Lines that fail to decode are skipped.
func (j *FileJournal) Latest(n int) ([]*domain.JournalEntry, error) {
	f, err := os.Open(filepath.Join(j.dir, "journal.jsonl"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []*domain.JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e domain.JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}
