package reconciler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
)

const (
	migrationExt = ".sql"
	snapshotExt  = ".json"
)

// MigrationFile - файл миграции NNNN_name.sql. Тег файла совпадает с именем без расширения.
type MigrationFile struct {
	FileName string
	Tag      models.Tag
}

var migrationFileRegex = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

func ParseMigrationFileName(fileName string) (MigrationFile, error) {
	if !migrationFileRegex.MatchString(fileName) {
		return MigrationFile{}, fmt.Errorf("invalid migration filename: %s", fileName)
	}

	// префикс уже проверен регулярным выражением, неканонический тег (например 5_name) сохраняется как есть
	tag, _ := models.ParseTag(fileName[:len(fileName)-len(migrationExt)])

	return MigrationFile{FileName: fileName, Tag: tag}, nil
}

// ScanMigrationFiles возвращает файлы миграций каталога, отсортированные по имени.
// Файлы с другим расширением и именем, не соответствующим шаблону, пропускаются.
func ScanMigrationFiles(dir string) ([]MigrationFile, []string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var (
		files   []MigrationFile
		skipped []string
	)
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != migrationExt {
			continue
		}

		file, err := ParseMigrationFileName(dirEntry.Name())
		if err != nil {
			skipped = append(skipped, dirEntry.Name())
			continue
		}
		files = append(files, file)
	}

	return files, skipped, nil
}

func migrationPath(dir string, tag models.Tag) string {
	return filepath.Join(dir, tag.String()+migrationExt)
}

func snapshotPath(metaDir string, tag models.Tag) string {
	return filepath.Join(metaDir, tag.String()+snapshotExt)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// moveMigration переименовывает файл миграции и, если он есть, его снимок. Существующие файлы
// с новым тегом не перезаписываются. Если снимок переименовать не удалось, файл миграции
// возвращается под старое имя.
func moveMigration(dir, metaDir string, oldTag, newTag models.Tag) (snapshotMoved bool, err error) {
	oldPath, newPath := migrationPath(dir, oldTag), migrationPath(dir, newTag)

	if err = ensureAbsent(newPath); err != nil {
		return false, err
	}

	var moveSnapshot bool
	if metaDir != "" {
		moveSnapshot, err = exists(snapshotPath(metaDir, oldTag))
		if err != nil {
			return false, err
		}
		if moveSnapshot {
			if err = ensureAbsent(snapshotPath(metaDir, newTag)); err != nil {
				return false, err
			}
		}
	}

	if err = os.Rename(oldPath, newPath); err != nil {
		return false, fmt.Errorf("rename migration %s: %w", oldTag, err)
	}

	if moveSnapshot {
		if err = os.Rename(snapshotPath(metaDir, oldTag), snapshotPath(metaDir, newTag)); err != nil {
			if rollbackErr := os.Rename(newPath, oldPath); rollbackErr != nil {
				err = errors.Join(err, rollbackErr)
			}
			return false, fmt.Errorf("rename snapshot %s: %w", oldTag, err)
		}
	}

	return moveSnapshot, nil
}

func ensureAbsent(path string) error {
	found, err := exists(path)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", ErrRenameTargetExists, path)
	}
	return nil
}
