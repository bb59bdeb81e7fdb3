package reconciler

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/sirupsen/logrus"
)

// WriteRenameMap пишет карту переименований построчно в формате "old|new".
func WriteRenameMap(path string, renames []Rename) error {
	var buf bytes.Buffer
	for _, rename := range renames {
		fmt.Fprintf(&buf, "%s|%s\n", rename.Old, rename.New)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write rename map %s: %w", path, err)
	}
	return nil
}

func ReadRenameMap(path string) ([]Rename, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rename map: %w", err)
	}
	defer file.Close()

	var renames []Rename
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		oldTag, newTag, found := strings.Cut(text, "|")
		if !found || oldTag == "" || newTag == "" {
			return nil, fmt.Errorf("rename map %s:%d: expected old|new, got %q", path, line, text)
		}

		// теги в карте могли быть неканоническими в исходном журнале, они сохраняются дословно
		parsedOld, _ := models.ParseTag(oldTag)
		parsedNew, _ := models.ParseTag(newTag)
		renames = append(renames, Rename{Old: parsedOld, New: parsedNew})
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rename map: %w", err)
	}

	return renames, nil
}

type ApplyResult struct {
	Renamed          []Rename
	Missing          []Rename
	SnapshotsRenamed int
}

// ApplyRenames переименовывает файлы миграций (и снимки в metaDir, если они есть) по карте
// переименований. Отсутствующий исходный файл пропускается: переименование уже выполнено.
// Существующий файл с новым тегом не перезаписывается (ErrRenameTargetExists).
func (r *Reconciler) ApplyRenames(dir, metaDir string, renames []Rename) (*ApplyResult, error) {
	rn := r.newRun("apply-renames")
	result := &ApplyResult{}

	for _, rename := range renames {
		logger := rn.logger.WithFields(logrus.Fields{
			"tag":     rename.Old.String(),
			"new_tag": rename.New.String(),
		})

		found, err := exists(migrationPath(dir, rename.Old))
		if err != nil {
			return result, err
		}
		if !found {
			logger.Info("migration file not found, assuming already renamed")
			result.Missing = append(result.Missing, rename)
			continue
		}

		logger.Infof("renaming %s%s -> %s%s", rename.Old, migrationExt, rename.New, migrationExt)

		if r.dryRun {
			result.Renamed = append(result.Renamed, rename)
			continue
		}

		snapshotMoved, err := moveMigration(dir, metaDir, rename.Old, rename.New)
		if err != nil {
			return result, err
		}
		if snapshotMoved {
			result.SnapshotsRenamed++
		}

		result.Renamed = append(result.Renamed, rename)
		rn.record(models.ActionRenamed, rename.Old, rename.New, "applied rename map")
	}

	rn.logger.Infof("renamed %d migration(s), %d already in place", len(result.Renamed), len(result.Missing))
	return result, rn.flush()
}
