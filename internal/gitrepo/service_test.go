package gitrepo

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chronicle/collab/internal/store"
)

func version(id string, number int, content string) store.Version {
	return store.Version{
		ID:            id,
		DocumentID:    "doc-1",
		VersionNumber: number,
		Content:       content,
		CreatedBy:     "Avery Stone",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCommitVersionAndHistory(t *testing.T) {
	mirror := New(t.TempDir())

	if err := mirror.InitDocument(version("v-1", 1, "Hello\n")); err != nil {
		t.Fatalf("InitDocument() error = %v", err)
	}
	// second init is a no-op
	if err := mirror.InitDocument(version("v-x", 1, "ignored\n")); err != nil {
		t.Fatalf("InitDocument() repeat error = %v", err)
	}
	if err := mirror.EnsureBranch("doc-1", "feature/intro", store.MainBranch); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	next := version("v-2", 1, "Hello\nWorld\n")
	next.CommitMessage = "Add world"
	commit, err := mirror.CommitVersion("feature/intro", next)
	if err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if commit.VersionID != "v-2" || commit.Message != "Add world" {
		t.Fatalf("unexpected commit info: %+v", commit)
	}
	if commit.Added != 1 || commit.Removed != 0 {
		t.Fatalf("unexpected diff stats: +%d -%d", commit.Added, commit.Removed)
	}
	if commit.Author != "Avery Stone" {
		t.Fatalf("author = %q", commit.Author)
	}

	content, head, err := mirror.HeadContent("doc-1", "feature/intro")
	if err != nil {
		t.Fatalf("HeadContent() error = %v", err)
	}
	if content != "Hello\nWorld\n" || head.Hash != commit.Hash {
		t.Fatalf("unexpected head: %q %+v", content, head)
	}

	mainContent, _, err := mirror.HeadContent("doc-1", store.MainBranch)
	if err != nil {
		t.Fatalf("HeadContent(main) error = %v", err)
	}
	if mainContent != "Hello\n" {
		t.Fatalf("main moved: %q", mainContent)
	}

	history, err := mirror.History("doc-1", "feature/intro", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].VersionID != "v-2" || history[1].VersionID != "v-1" {
		t.Fatalf("unexpected history order: %+v", history)
	}
	if history[1].Message != "Version 1" {
		t.Fatalf("default subject = %q", history[1].Message)
	}
}

func TestTagMergeIsIdempotent(t *testing.T) {
	mirror := New(t.TempDir())
	if err := mirror.InitDocument(version("v-1", 1, "text")); err != nil {
		t.Fatalf("InitDocument() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := mirror.TagMerge("doc-1", store.MainBranch, "mr_1"); err != nil {
			t.Fatalf("TagMerge() attempt %d error = %v", i, err)
		}
	}
}

func TestConcurrentCommitVersionSameBranch(t *testing.T) {
	mirror := New(t.TempDir())
	if err := mirror.InitDocument(version("v-1", 1, "base")); err != nil {
		t.Fatalf("InitDocument() error = %v", err)
	}
	if err := mirror.EnsureBranch("doc-1", "draft", store.MainBranch); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v := version(fmt.Sprintf("v-%02d", idx), idx+2, fmt.Sprintf("content-%02d", idx))
			if _, err := mirror.CommitVersion("draft", v); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("CommitVersion() concurrent error = %v", err)
	}

	history, err := mirror.History("doc-1", "draft", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := mirror.HeadContent("doc-1", "draft")
	if err != nil {
		t.Fatalf("HeadContent() error = %v", err)
	}
	if !strings.HasPrefix(head, "content-") {
		t.Fatalf("unexpected head content after concurrent commits: %q", head)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"a_b-c":       "a.b.c",
		"!!!":         "user",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
