package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
	// ErrStaleHead means the branch head moved since the caller read it.
	ErrStaleHead = errors.New("store: branch head moved")
)

const MainBranch = "main"

type BranchStatus string

const (
	BranchActive    BranchStatus = "active"
	BranchAbandoned BranchStatus = "abandoned"
)

type Branch struct {
	ID             string       `json:"id"`
	DocumentID     string       `json:"documentId"`
	Name           string       `json:"name"`
	ParentBranchID string       `json:"parentBranchId"`
	LastCommitID   string       `json:"lastCommitId"`
	IsProtected    bool         `json:"isProtected"`
	ReviewRequired bool         `json:"reviewRequired"`
	Status         BranchStatus `json:"status"`
	CreatedBy      string       `json:"createdBy"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func (b Branch) IsMain() bool {
	return b.Name == MainBranch && b.ParentBranchID == ""
}

// Version is immutable once stored. Parent edges are ids, never pointers.
type Version struct {
	ID                   string    `json:"id"`
	DocumentID           string    `json:"documentId"`
	BranchID             string    `json:"branchId"`
	VersionNumber        int       `json:"versionNumber"`
	Content              string    `json:"content"`
	Checksum             string    `json:"checksum"`
	ParentVersionID      string    `json:"parentVersionId"`
	MergedFromBranches   []string  `json:"mergedFromBranches"`
	MergeSourceVersionID string    `json:"mergeSourceVersionId"`
	OperationIDs         []string  `json:"operationIds"`
	CreatedBy            string    `json:"createdBy"`
	CommitMessage        string    `json:"commitMessage"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Parents returns every version id this version descends from directly.
func (v Version) Parents() []string {
	parents := make([]string, 0, 2)
	if v.ParentVersionID != "" {
		parents = append(parents, v.ParentVersionID)
	}
	if v.MergeSourceVersionID != "" {
		parents = append(parents, v.MergeSourceVersionID)
	}
	return parents
}

type MergeRequestStatus string

const (
	MergeRequestDraft     MergeRequestStatus = "draft"
	MergeRequestReady     MergeRequestStatus = "ready"
	MergeRequestConflicts MergeRequestStatus = "conflicts"
	MergeRequestApproved  MergeRequestStatus = "approved"
	MergeRequestMerged    MergeRequestStatus = "merged"
	MergeRequestClosed    MergeRequestStatus = "closed"
)

// Open reports whether the merge request still blocks a new one for the same pair.
func (s MergeRequestStatus) Open() bool {
	return s != MergeRequestMerged && s != MergeRequestClosed
}

type MergeRequest struct {
	ID                string             `json:"id"`
	DocumentID        string             `json:"documentId"`
	SourceBranchID    string             `json:"sourceBranchId"`
	TargetBranchID    string             `json:"targetBranchId"`
	Title             string             `json:"title"`
	Status            MergeRequestStatus `json:"status"`
	ConflictIDs       []string           `json:"conflictIds"`
	Approvals         []string           `json:"approvals"`
	RequiredApprovals int                `json:"requiredApprovals"`
	MergedVersionID   string             `json:"mergedVersionId"`
	CreatedBy         string             `json:"createdBy"`
	CreatedAt         time.Time          `json:"createdAt"`
	MergedAt          *time.Time         `json:"mergedAt,omitempty"`
}

type ConflictType string

const (
	ConflictContent    ConflictType = "content"
	ConflictStructural ConflictType = "structural"
)

type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

type Resolution string

const (
	ResolutionAcceptSource Resolution = "accept-source"
	ResolutionAcceptTarget Resolution = "accept-target"
	ResolutionManualMerge  Resolution = "manual-merge"
	ResolutionAISuggested  Resolution = "ai-suggested"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionAcceptSource, ResolutionAcceptTarget, ResolutionManualMerge, ResolutionAISuggested:
		return true
	default:
		return false
	}
}

// RequiresContent reports whether the caller must supply the merged text.
func (r Resolution) RequiresContent() bool {
	return r == ResolutionManualMerge || r == ResolutionAISuggested
}

// Conflict is raised either by a merge (MergeRequestID set) or by live
// transformation of a colliding operation (OperationID set).
type Conflict struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"documentId"`
	MergeRequestID  string         `json:"mergeRequestId"`
	OperationID     string         `json:"operationId"`
	Type            ConflictType   `json:"type"`
	Position        int            `json:"position"`
	SourceContent   string         `json:"sourceContent"`
	TargetContent   string         `json:"targetContent"`
	CommonAncestor  string         `json:"commonAncestor"`
	HasAncestor     bool           `json:"hasAncestor"`
	Status          ConflictStatus `json:"status"`
	Resolution      Resolution     `json:"resolution"`
	ResolvedContent string         `json:"resolvedContent"`
	ResolvedBy      string         `json:"resolvedBy"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}
