package search

import "context"

// Result is a single version hit returned to the caller.
type Result struct {
	VersionID     string `json:"versionId"`
	DocumentID    string `json:"documentId"`
	BranchID      string `json:"branchId"`
	BranchName    string `json:"branchName"`
	VersionNumber int    `json:"versionNumber"`
	CommitMessage string `json:"commitMessage"`
	Snippet       string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string // empty = all documents
	BranchID   string // empty = all branches
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that versions can be pushed into.
type Index interface {
	Searcher
	IndexVersion(rec VersionRecord) error
	IndexVersions(recs []VersionRecord) error
}

// VersionRecord is the data we index for a committed version.
type VersionRecord struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	BranchID      string `json:"branchId"`
	BranchName    string `json:"branchName"`
	VersionNumber int    `json:"versionNumber"`
	Content       string `json:"content"`
	CommitMessage string `json:"commitMessage"`
	CreatedBy     string `json:"createdBy"`
	CreatedAt     int64  `json:"createdAt"`
}

const defaultLimit = 20

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
