package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is a substring matcher used when no search backend is
// configured.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]VersionRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]VersionRecord)}
}

func (m *MemoryIndex) Healthy() bool {
	return true
}

func (m *MemoryIndex) IndexVersion(rec VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryIndex) IndexVersions(recs []VersionRecord) error {
	for _, rec := range recs {
		if err := m.IndexVersion(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	m.mu.RLock()
	matches := make([]VersionRecord, 0)
	for _, rec := range m.records {
		if q.DocumentID != "" && rec.DocumentID != q.DocumentID {
			continue
		}
		if q.BranchID != "" && rec.BranchID != q.BranchID {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), needle) || strings.Contains(strings.ToLower(rec.CommitMessage), needle) {
			matches = append(matches, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limitOrDefault(q.Limit)
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, rec := range matches[start:end] {
		results = append(results, Result{
			VersionID:     rec.ID,
			DocumentID:    rec.DocumentID,
			BranchID:      rec.BranchID,
			BranchName:    rec.BranchName,
			VersionNumber: rec.VersionNumber,
			CommitMessage: rec.CommitMessage,
			Snippet:       snippet(rec.Content, needle),
		})
	}
	return results, total, nil
}

func snippet(content, needle string) string {
	runes := []rune(content)
	idx := strings.Index(strings.ToLower(content), needle)
	if idx < 0 || idx > len(content) {
		idx = 0
	}
	start := len([]rune(content[:idx])) - 30
	if start < 0 {
		start = 0
	}
	end := start + 80
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end])
}
