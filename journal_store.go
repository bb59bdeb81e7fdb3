package reconciler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
)

type JournalSource interface {
	Load() (*models.Journal, []models.ParseWarning, error)
	String() string
}

type JournalStore interface {
	JournalSource
	Save(journal *models.Journal) error
}

// FileStore хранит журнал в JSON-файле (meta/_journal.json).
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load возвращает ErrMissingJournal, если файл отсутствует или не читается, и ErrMalformedJournal,
// если содержимое не является журналом.
func (s *FileStore) Load() (*models.Journal, []models.ParseWarning, error) {
	if s.Path == "" {
		return nil, nil, fmt.Errorf("%w: no journal path configured", ErrMissingJournal)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMissingJournal, err)
	}

	journal, warnings, err := models.ParseJournal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.Path, err)
	}

	return journal, warnings, nil
}

// Save пишет журнал во временный файл рядом с исходным и переименовывает его на место исходного,
// так что прерванная запись не портит журнал. Права существующего файла сохраняются.
func (s *FileStore) Save(journal *models.Journal) error {
	data, err := journal.Encode()
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.Path); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write journal %s: %w", s.Path, err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(mode)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write journal %s: %w", s.Path, err)
	}

	if err = os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace journal %s: %w", s.Path, err)
	}

	return nil
}

func (s *FileStore) String() string {
	return s.Path
}
