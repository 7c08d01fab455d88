package game

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileExporter appends finished matches to a plain text file.
type FileExporter struct {
	Path string

	mu sync.Mutex
}

func NewFileExporter(path string) *FileExporter {
	return &FileExporter{Path: path}
}

// SaveMatch exports one match result to the text file
func (e *FileExporter) SaveMatch(_ context.Context, r MatchResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Create directory if it doesn't exist
	dir := filepath.Dir(e.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(e.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(formatMatch(r)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func formatMatch(r MatchResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Shooting Arena Match %s\n", r.ID))
	sb.WriteString(fmt.Sprintf("Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Ended:   %s\n", r.EndedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	for i, s := range r.Ranking {
		status := "survived"
		if s.IsDead != nil {
			status = "died " + time.UnixMilli(*s.IsDead).UTC().Format("15:04:05.000")
		}
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, s.Username, status))
	}
	if w := r.Winner(); w != "" {
		sb.WriteString(fmt.Sprintf("\nWinner: %s\n", w))
	}
	sb.WriteString("\n")
	return sb.String()
}
