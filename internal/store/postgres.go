package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chronicle/collab/internal/ot"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveOperation inserts op and the conflicts it raised in one transaction.
func (s *PostgresStore) SaveOperation(ctx context.Context, op ot.Operation, conflicts ...Conflict) error {
	return s.inTx(ctx, "operation", func(tx *sql.Tx) error {
		if err := insertOperation(ctx, tx, op); err != nil {
			return err
		}
		return insertConflicts(ctx, tx, conflicts)
	})
}

func insertOperation(ctx context.Context, db execer, op ot.Operation) error {
	attributes, err := encodeJSON(op.Attributes, "{}")
	if err != nil {
		return fmt.Errorf("marshal operation attributes: %w", err)
	}
	clock, err := encodeJSON(op.VectorClock, "{}")
	if err != nil {
		return fmt.Errorf("marshal operation clock: %w", err)
	}
	timestamp := op.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO document_operations (id, document_id, op_type, author_id, position, length, content, attributes, vector_clock, op_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10)
	`, op.ID, op.DocumentID, string(op.Type), op.AuthorID, op.Position, op.Length, op.Content, attributes, clock, timestamp)
	if err != nil {
		return mapWriteError("insert operation", err)
	}
	return nil
}

func (s *PostgresStore) ListOperations(ctx context.Context, documentID string, limit int) ([]ot.Operation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, op_type, author_id, position, length, content, attributes, vector_clock, op_timestamp
		FROM (
			SELECT * FROM document_operations
			WHERE document_id=$1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	items := make([]ot.Operation, 0)
	for rows.Next() {
		var item ot.Operation
		var opType string
		var attributesRaw, clockRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&opType,
			&item.AuthorID,
			&item.Position,
			&item.Length,
			&item.Content,
			&attributesRaw,
			&clockRaw,
			&item.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		item.Type = ot.OpType(opType)
		if err := json.Unmarshal(attributesRaw, &item.Attributes); err != nil {
			return nil, fmt.Errorf("decode operation attributes: %w", err)
		}
		if len(item.Attributes) == 0 {
			item.Attributes = nil
		}
		if err := json.Unmarshal(clockRaw, &item.VectorClock); err != nil {
			return nil, fmt.Errorf("decode operation clock: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateBranch(ctx context.Context, branch Branch, initial Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create branch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	initial.BranchID = branch.ID
	branch.LastCommitID = initial.ID
	status := branch.Status
	if status == "" {
		status = BranchActive
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO branches (id, document_id, name, parent_branch_id, last_commit_id, is_protected, review_required, status, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	`, branch.ID, branch.DocumentID, branch.Name, branch.ParentBranchID, branch.LastCommitID,
		branch.IsProtected, branch.ReviewRequired, string(status), branch.CreatedBy); err != nil {
		return mapWriteError("insert branch", err)
	}
	if err := insertVersion(ctx, tx, initial); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create branch tx: %w", err)
	}
	return nil
}

const branchColumns = `id, document_id, name, COALESCE(parent_branch_id, ''), last_commit_id, is_protected, review_required, status, created_by, created_at`

func (s *PostgresStore) LoadBranch(ctx context.Context, branchID string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id=$1`, branchID)
	branch, err := scanBranch(row)
	if err != nil {
		return Branch{}, mapReadError("load branch", err)
	}
	return branch, nil
}

func (s *PostgresStore) LoadBranchByName(ctx context.Context, documentID, name string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE document_id=$1 AND name=$2`, documentID, name)
	branch, err := scanBranch(row)
	if err != nil {
		return Branch{}, mapReadError("load branch by name", err)
	}
	return branch, nil
}

func (s *PostgresStore) ListBranches(ctx context.Context, documentID string) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE document_id=$1
		ORDER BY created_at ASC, name ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	items := make([]Branch, 0)
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		items = append(items, branch)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateBranchStatus(ctx context.Context, branchID string, status BranchStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE branches SET status=$2 WHERE id=$1`, branchID, string(status))
	if err != nil {
		return fmt.Errorf("update branch status: %w", err)
	}
	return requireAffected(result, "update branch status")
}

const versionColumns = `id, document_id, branch_id, version_number, content, checksum,
	COALESCE(parent_version_id, ''), COALESCE(merge_source_version_id, ''),
	merged_from_branches, operation_ids, created_by, commit_message, created_at`

func (s *PostgresStore) LoadVersion(ctx context.Context, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id=$1`, versionID)
	version, err := scanVersion(row)
	if err != nil {
		return Version{}, mapReadError("load version", err)
	}
	return version, nil
}

func (s *PostgresStore) LoadLatestVersion(ctx context.Context, branchID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE id = (SELECT last_commit_id FROM branches WHERE id=$1)
	`, branchID)
	version, err := scanVersion(row)
	if err != nil {
		return Version{}, mapReadError("load latest version", err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, branchID string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE branch_id=$1
		ORDER BY version_number DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, version)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CommitVersion(ctx context.Context, version Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := commitVersionTx(ctx, tx, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version tx: %w", err)
	}
	return nil
}

// CreateMergeRequest inserts request and the conflicts found when it was
// opened in one transaction.
func (s *PostgresStore) CreateMergeRequest(ctx context.Context, request MergeRequest, conflicts ...Conflict) error {
	conflictIDs, err := encodeJSON(nonNil(request.ConflictIDs), "[]")
	if err != nil {
		return fmt.Errorf("marshal conflict ids: %w", err)
	}
	approvals, err := encodeJSON(nonNil(request.Approvals), "[]")
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}
	return s.inTx(ctx, "merge request", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO merge_requests (id, document_id, source_branch_id, target_branch_id, title, status, conflict_ids, approvals, required_approvals, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
		`, request.ID, request.DocumentID, request.SourceBranchID, request.TargetBranchID, request.Title,
			string(request.Status), conflictIDs, approvals, request.RequiredApprovals, request.CreatedBy)
		if err != nil {
			return mapWriteError("insert merge request", err)
		}
		return insertConflicts(ctx, tx, conflicts)
	})
}

const mergeRequestColumns = `id, document_id, source_branch_id, target_branch_id, title, status,
	conflict_ids, approvals, required_approvals, COALESCE(merged_version_id, ''), created_by, created_at, merged_at`

func (s *PostgresStore) LoadMergeRequest(ctx context.Context, id string) (MergeRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mergeRequestColumns+` FROM merge_requests WHERE id=$1`, id)
	request, err := scanMergeRequest(row)
	if err != nil {
		return MergeRequest{}, mapReadError("load merge request", err)
	}
	return request, nil
}

func (s *PostgresStore) ListMergeRequests(ctx context.Context, branchID string, openOnly bool) ([]MergeRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mergeRequestColumns+`
		FROM merge_requests
		WHERE (source_branch_id=$1 OR target_branch_id=$1)
			AND (NOT $2 OR status NOT IN ('merged', 'closed'))
		ORDER BY created_at ASC
	`, branchID, openOnly)
	if err != nil {
		return nil, fmt.Errorf("list merge requests: %w", err)
	}
	defer rows.Close()

	items := make([]MergeRequest, 0)
	for rows.Next() {
		request, err := scanMergeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge request: %w", err)
		}
		items = append(items, request)
	}
	return items, rows.Err()
}

// UpdateMergeRequest rewrites request and inserts the new conflicts it
// references in one transaction.
func (s *PostgresStore) UpdateMergeRequest(ctx context.Context, request MergeRequest, conflicts ...Conflict) error {
	conflictIDs, err := encodeJSON(nonNil(request.ConflictIDs), "[]")
	if err != nil {
		return fmt.Errorf("marshal conflict ids: %w", err)
	}
	approvals, err := encodeJSON(nonNil(request.Approvals), "[]")
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}
	return s.inTx(ctx, "merge request update", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE merge_requests
			SET title=$2, status=$3, conflict_ids=$4::jsonb, approvals=$5::jsonb, required_approvals=$6
			WHERE id=$1
		`, request.ID, request.Title, string(request.Status), conflictIDs, approvals, request.RequiredApprovals)
		if err != nil {
			return mapWriteError("update merge request", err)
		}
		if err := requireAffected(result, "update merge request"); err != nil {
			return err
		}
		return insertConflicts(ctx, tx, conflicts)
	})
}

// CompleteMerge commits the merged version onto the target branch and marks
// the request merged in one transaction.
func (s *PostgresStore) CompleteMerge(ctx context.Context, mergeRequestID string, version Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE merge_requests
		SET status='merged', merged_at=NOW()
		WHERE id=$1 AND status NOT IN ('merged', 'closed')
	`, mergeRequestID)
	if err != nil {
		return fmt.Errorf("mark merge request merged: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark merge request merged rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM merge_requests WHERE id=$1)`, mergeRequestID).Scan(&exists); err != nil {
			return fmt.Errorf("check merge request: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleHead
	}
	if err := commitVersionTx(ctx, tx, version); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE merge_requests SET merged_version_id=$2 WHERE id=$1`, mergeRequestID, version.ID); err != nil {
		return fmt.Errorf("link merged version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func insertConflicts(ctx context.Context, db execer, conflicts []Conflict) error {
	for _, conflict := range conflicts {
		var ancestor any
		if conflict.HasAncestor {
			ancestor = conflict.CommonAncestor
		}
		status := conflict.Status
		if status == "" {
			status = ConflictUnresolved
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO merge_conflicts (id, document_id, merge_request_id, operation_id, conflict_type, position, source_content, target_content, common_ancestor, status)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		`, conflict.ID, conflict.DocumentID, conflict.MergeRequestID, conflict.OperationID, string(conflict.Type),
			conflict.Position, conflict.SourceContent, conflict.TargetContent, ancestor, string(status))
		if err != nil {
			return mapWriteError("insert conflict", err)
		}
	}
	return nil
}

const conflictColumns = `id, document_id, COALESCE(merge_request_id, ''), COALESCE(operation_id, ''), conflict_type, position,
	source_content, target_content, common_ancestor, status, COALESCE(resolution, ''), COALESCE(resolved_content, ''),
	COALESCE(resolved_by, ''), resolved_at, created_at`

func (s *PostgresStore) LoadConflict(ctx context.Context, id string) (Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM merge_conflicts WHERE id=$1`, id)
	conflict, err := scanConflict(row)
	if err != nil {
		return Conflict{}, mapReadError("load conflict", err)
	}
	return conflict, nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, mergeRequestID string) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conflictColumns+`
		FROM merge_conflicts
		WHERE merge_request_id=$1
		ORDER BY position ASC, created_at ASC
	`, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	items := make([]Conflict, 0)
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		items = append(items, conflict)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ResolveConflict(ctx context.Context, conflict Conflict) (bool, error) {
	resolvedAt := time.Now().UTC()
	if conflict.ResolvedAt != nil {
		resolvedAt = *conflict.ResolvedAt
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE merge_conflicts
		SET status='resolved', resolution=$2, resolved_content=$3, resolved_by=$4, resolved_at=$5
		WHERE id=$1 AND status='unresolved'
	`, conflict.ID, string(conflict.Resolution), conflict.ResolvedContent, conflict.ResolvedBy, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("resolve conflict: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve conflict rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM merge_conflicts WHERE id=$1)`, conflict.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *PostgresStore) inTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", name, err)
	}
	return nil
}

func commitVersionTx(ctx context.Context, tx *sql.Tx, version Version) error {
	var parent any
	if version.ParentVersionID != "" {
		parent = version.ParentVersionID
	}
	// Compare-and-set on the head keeps concurrent commits from forking a branch.
	result, err := tx.ExecContext(ctx, `
		UPDATE branches SET last_commit_id=$2
		WHERE id=$1 AND last_commit_id IS NOT DISTINCT FROM $3
	`, version.BranchID, version.ID, parent)
	if err != nil {
		return fmt.Errorf("advance branch head: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance branch head rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM branches WHERE id=$1)`, version.BranchID).Scan(&exists); err != nil {
			return fmt.Errorf("check branch: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleHead
	}
	return insertVersion(ctx, tx, version)
}

func insertVersion(ctx context.Context, db execer, version Version) error {
	mergedFrom, err := encodeJSON(nonNil(version.MergedFromBranches), "[]")
	if err != nil {
		return fmt.Errorf("marshal merged branches: %w", err)
	}
	operationIDs, err := encodeJSON(nonNil(version.OperationIDs), "[]")
	if err != nil {
		return fmt.Errorf("marshal operation ids: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, branch_id, version_number, content, checksum, parent_version_id, merge_source_version_id, merged_from_branches, operation_ids, created_by, commit_message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9::jsonb, $10::jsonb, $11, $12)
	`, version.ID, version.DocumentID, version.BranchID, version.VersionNumber, version.Content, version.Checksum,
		version.ParentVersionID, version.MergeSourceVersionID, mergedFrom, operationIDs, version.CreatedBy, version.CommitMessage)
	if err != nil {
		return mapWriteError("insert version", err)
	}
	return nil
}

func scanBranch(row rowScanner) (Branch, error) {
	var branch Branch
	var status string
	err := row.Scan(
		&branch.ID,
		&branch.DocumentID,
		&branch.Name,
		&branch.ParentBranchID,
		&branch.LastCommitID,
		&branch.IsProtected,
		&branch.ReviewRequired,
		&status,
		&branch.CreatedBy,
		&branch.CreatedAt,
	)
	branch.Status = BranchStatus(status)
	return branch, err
}

func scanVersion(row rowScanner) (Version, error) {
	var version Version
	var mergedFromRaw, operationIDsRaw []byte
	if err := row.Scan(
		&version.ID,
		&version.DocumentID,
		&version.BranchID,
		&version.VersionNumber,
		&version.Content,
		&version.Checksum,
		&version.ParentVersionID,
		&version.MergeSourceVersionID,
		&mergedFromRaw,
		&operationIDsRaw,
		&version.CreatedBy,
		&version.CommitMessage,
		&version.CreatedAt,
	); err != nil {
		return Version{}, err
	}
	_ = json.Unmarshal(mergedFromRaw, &version.MergedFromBranches)
	_ = json.Unmarshal(operationIDsRaw, &version.OperationIDs)
	return version, nil
}

func scanMergeRequest(row rowScanner) (MergeRequest, error) {
	var request MergeRequest
	var status string
	var conflictIDsRaw, approvalsRaw []byte
	var mergedAt sql.NullTime
	if err := row.Scan(
		&request.ID,
		&request.DocumentID,
		&request.SourceBranchID,
		&request.TargetBranchID,
		&request.Title,
		&status,
		&conflictIDsRaw,
		&approvalsRaw,
		&request.RequiredApprovals,
		&request.MergedVersionID,
		&request.CreatedBy,
		&request.CreatedAt,
		&mergedAt,
	); err != nil {
		return MergeRequest{}, err
	}
	request.Status = MergeRequestStatus(status)
	_ = json.Unmarshal(conflictIDsRaw, &request.ConflictIDs)
	_ = json.Unmarshal(approvalsRaw, &request.Approvals)
	if mergedAt.Valid {
		request.MergedAt = &mergedAt.Time
	}
	return request, nil
}

func scanConflict(row rowScanner) (Conflict, error) {
	var conflict Conflict
	var conflictType, status, resolution string
	var ancestor sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&conflict.ID,
		&conflict.DocumentID,
		&conflict.MergeRequestID,
		&conflict.OperationID,
		&conflictType,
		&conflict.Position,
		&conflict.SourceContent,
		&conflict.TargetContent,
		&ancestor,
		&status,
		&resolution,
		&conflict.ResolvedContent,
		&conflict.ResolvedBy,
		&resolvedAt,
		&conflict.CreatedAt,
	); err != nil {
		return Conflict{}, err
	}
	conflict.Type = ConflictType(conflictType)
	conflict.Status = ConflictStatus(status)
	conflict.Resolution = Resolution(resolution)
	conflict.CommonAncestor = ancestor.String
	conflict.HasAncestor = ancestor.Valid
	if resolvedAt.Valid {
		conflict.ResolvedAt = &resolvedAt.Time
	}
	return conflict, nil
}

func encodeJSON(value any, empty string) (string, error) {
	if value == nil {
		return empty, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if string(encoded) == "null" {
		return empty, nil
	}
	return string(encoded), nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func requireAffected(result sql.Result, action string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", action, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapReadError(action string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

func mapWriteError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", action, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", action, err)
}
