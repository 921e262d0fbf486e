// Package gitrepo mirrors the version graph into one git repository per
// document so history can be inspected with ordinary git tooling.
package gitrepo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"chronicle/collab/internal/store"
)

const contentFile = "content.txt"

const (
	trailerVersionID     = "Version-Id"
	trailerVersionNumber = "Version-Number"
	trailerMergedFrom    = "Merged-From"
)

type CommitInfo struct {
	Hash          string    `json:"hash"`
	Message       string    `json:"message"`
	Author        string    `json:"author"`
	VersionID     string    `json:"versionId"`
	VersionNumber int       `json:"versionNumber"`
	CreatedAt     time.Time `json:"createdAt"`
	Added         int       `json:"added"`
	Removed       int       `json:"removed"`
}

type Mirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Mirror {
	return &Mirror{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// InitDocument creates the repository with the main branch at the first
// version. It does nothing when the repository already exists.
func (m *Mirror) InitDocument(version store.Version) error {
	lock := m.documentLock(version.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	path := m.repoPath(version.DocumentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, contentFile), []byte(version.Content), 0o644); err != nil {
		return fmt.Errorf("write initial content: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add initial content: %w", err)
	}
	hash, err := worktree.Commit(commitMessage(version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(version.CreatedBy, version.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("commit initial content: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(store.MainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(store.MainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// EnsureBranch points branchName at fromBranch's head unless it exists.
func (m *Mirror) EnsureBranch(documentID, branchName, fromBranch string) error {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	branchRefName := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRefName, true); err == nil {
		return nil
	}

	fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(fromBranch), true)
	if err != nil {
		return fmt.Errorf("read source branch ref: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, fromRef.Hash())); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	return nil
}

// CommitVersion records version as a commit on branchName.
func (m *Mirror) CommitVersion(branchName string, version store.Version) (CommitInfo, error) {
	lock := m.documentLock(version.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(version.DocumentID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := m.commit(repo, branchName, version)
	if err != nil {
		return CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// HeadContent returns the text at the tip of branchName.
func (m *Mirror) HeadContent(documentID, branchName string) (string, CommitInfo, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return "", CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (m *Mirror) History(documentID, branchName string, limit int) ([]CommitInfo, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TagMerge tags the tip of branchName with merge/<mergeRequestID>.
func (m *Mirror) TagMerge(documentID, branchName, mergeRequestID string) error {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	name := "merge/" + mergeRequestID
	_, err = repo.CreateTag(name, ref.Hash(), &git.CreateTagOptions{
		Tagger:  signature("collab", time.Now()),
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (m *Mirror) repoPath(documentID string) string {
	return filepath.Join(m.baseDir, documentID)
}

func (m *Mirror) documentLock(documentID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[documentID] = lock
	return lock
}

func (m *Mirror) commit(repo *git.Repository, branchName string, version store.Version) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchName); err != nil {
		return plumbing.ZeroHash, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), []byte(version.Content), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}

	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	// Versions with unchanged content still get a commit so every version id
	// has a git counterpart.
	hash, err := worktree.Commit(commitMessage(version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(version.CreatedBy, version.CreatedAt),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func readContentFromCommit(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return content, nil
}

func commitMessage(version store.Version) string {
	subject := strings.TrimSpace(version.CommitMessage)
	if subject == "" {
		subject = fmt.Sprintf("Version %d", version.VersionNumber)
	}
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s: %s\n", trailerVersionID, version.ID)
	fmt.Fprintf(&b, "%s: %d\n", trailerVersionNumber, version.VersionNumber)
	if len(version.MergedFromBranches) > 0 {
		fmt.Fprintf(&b, "%s: %s\n", trailerMergedFrom, strings.Join(version.MergedFromBranches, ","))
	}
	return b.String()
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(strings.SplitN(commitObj.Message, "\n", 2)[0]),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	scanner := bufio.NewScanner(strings.NewReader(commitObj.Message))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ": ")
		if !ok {
			continue
		}
		switch key {
		case trailerVersionID:
			info.VersionID = value
		case trailerVersionNumber:
			info.VersionNumber, _ = strconv.Atoi(value)
		}
	}
	if stats, err := commitObj.Stats(); err == nil {
		for _, stat := range stats {
			info.Added += stat.Addition
			info.Removed += stat.Deletion
		}
	}
	return info
}

func signature(author string, when time.Time) *object.Signature {
	if author == "" {
		author = "collab"
	}
	if when.IsZero() {
		when = time.Now()
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.chronicle.dev", sanitizeEmail(author)),
		When:  when,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
