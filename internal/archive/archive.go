// Package archive keeps a git-backed provenance trail of published form
// schemas. Each organization gets its own repository; each template family
// is one JSON file inside it. Every publish lands as a commit tagged with
// the family and version, so the exact schema behind any historical
// submission can be recovered even if the database row is gone.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"attest/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Record is the snapshot committed per publish.
type Record struct {
	TemplateID     string          `json:"templateId"`
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	Language       string          `json:"language"`
	DisclosureType string          `json:"disclosureType"`
	PublishedBy    string          `json:"publishedBy"`
	Schema         json.RawMessage `json:"schema"`
}

// CommitInfo describes one archive commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordPublish commits the published schema into the organization's
// archive and tags it <family>-v<version>.
func (s *Service) RecordPublish(orgID string, t store.FormTemplate) (CommitInfo, error) {
	lock := s.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(orgID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	record := Record{
		TemplateID:     t.ID,
		Name:           t.Name,
		Version:        t.Version,
		Language:       t.Language,
		DisclosureType: t.DisclosureType,
		PublishedBy:    t.PublishedBy,
		Schema:         t.Schema,
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal schema record: %w", err)
	}

	fileName := familyFile(t.Name)
	if err := os.WriteFile(filepath.Join(s.repoPath(orgID), fileName), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write schema record: %w", err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return CommitInfo{}, fmt.Errorf("git add schema record: %w", err)
	}

	author := t.PublishedBy
	if author == "" {
		author = "attest"
	}
	message := fmt.Sprintf("Publish %s v%d", t.Name, t.Version)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@archive.attest.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit schema record: %w", err)
	}

	tagName := fmt.Sprintf("%s-v%d", slug(t.Name), t.Version)
	if _, err := repo.CreateTag(tagName, hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("tag schema record: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists the archive commits touching one template family, newest
// first.
func (s *Service) History(orgID, name string, limit int) ([]CommitInfo, error) {
	lock := s.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(orgID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, nil
	}
	fileName := familyFile(name)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read archive log: %w", err)
	}
	defer iter.Close()

	var items []CommitInfo
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate archive log: %w", err)
	}
	return items, nil
}

// GetVersion recovers the schema record archived for a family version.
func (s *Service) GetVersion(orgID, name string, version int) (Record, error) {
	lock := s.orgLock(orgID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(orgID))
	if err != nil {
		return Record{}, fmt.Errorf("open archive repo: %w", err)
	}

	tagName := fmt.Sprintf("%s-v%d", slug(name), version)
	ref, err := repo.Tag(tagName)
	if err != nil {
		return Record{}, fmt.Errorf("resolve tag %s: %w", tagName, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Record{}, fmt.Errorf("read tagged commit: %w", err)
	}

	file, err := commitObj.File(familyFile(name))
	if err != nil {
		return Record{}, fmt.Errorf("load schema record from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Record{}, fmt.Errorf("open schema record reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Record{}, fmt.Errorf("read schema record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("decode schema record: %w", err)
	}
	return record, nil
}

func (s *Service) ensureRepo(orgID string) (*git.Repository, error) {
	path := s.repoPath(orgID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init archive repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(orgID string) string {
	return filepath.Join(s.baseDir, orgID)
}

func (s *Service) orgLock(orgID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[orgID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[orgID] = lock
	return lock
}

func familyFile(name string) string {
	return slug(name) + ".json"
}

func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ', r == '-', r == '_':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "template"
	}
	return string(out)
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

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}
