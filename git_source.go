package reconciler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitSource читает журнал из ревизии git-репозитория, например журнал базовой ветки при слиянии.
// Относительный путь к журналу отсчитывается от корня рабочей копии, абсолютный приводится к нему.
// Источник только для чтения.
type GitSource struct {
	repoPath    string
	revision    string
	journalPath string
}

func NewGitSource(repoPath, revision, journalPath string) *GitSource {
	return &GitSource{
		repoPath:    repoPath,
		revision:    revision,
		journalPath: journalPath,
	}
}

// Load возвращает ErrMissingJournal, если ревизия или файл журнала в ней не найдены.
func (s *GitSource) Load() (*models.Journal, []models.ParseWarning, error) {
	repo, err := gogit.PlainOpenWithOptions(s.repoPath, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, nil, fmt.Errorf("open git repo at %s: %w", s.repoPath, err)
	}

	journalPath, err := s.pathInRepo(repo)
	if err != nil {
		return nil, nil, err
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(s.revision))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: resolve %s: %w", ErrMissingJournal, s.revision, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: commit %s: %w", ErrMissingJournal, hash, err)
	}

	file, err := commit.File(journalPath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, nil, fmt.Errorf("%w: %s not found at %s", ErrMissingJournal, journalPath, s.revision)
		}
		return nil, nil, fmt.Errorf("%w: %s at %s: %w", ErrMissingJournal, journalPath, s.revision, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s at %s: %w", ErrMissingJournal, journalPath, s.revision, err)
	}

	journal, warnings, err := models.ParseJournal([]byte(contents))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s, err)
	}

	return journal, warnings, nil
}

func (s *GitSource) pathInRepo(repo *gogit.Repository) (string, error) {
	if !filepath.IsAbs(s.journalPath) {
		return filepath.ToSlash(filepath.Clean(s.journalPath)), nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree of %s: %w", s.repoPath, err)
	}
	root, err := filepath.Abs(worktree.Filesystem.Root())
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(resolveSymlinks(root), resolveSymlinks(s.journalPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside repository %s", ErrMissingJournal, s.journalPath, root)
	}

	return filepath.ToSlash(rel), nil
}

// resolveSymlinks раскрывает ссылки в ближайшем существующем предке пути: файла журнала в рабочей
// копии может и не быть.
func resolveSymlinks(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveSymlinks(parent), filepath.Base(path))
}

func (s *GitSource) Save(*models.Journal) error {
	return fmt.Errorf("%w: %s", ErrReadOnlySource, s)
}

func (s *GitSource) String() string {
	return s.revision + ":" + s.journalPath
}
