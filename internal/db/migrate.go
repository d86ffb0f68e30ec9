package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migrationFile struct {
	name string
	data []byte
}

// RunMigrations applies the .sql files of migrationsDir (or the embedded set
// when the directory is empty or missing) in name order. Applied names are
// recorded in schema_migrations so each file runs once per database.
func RunMigrations(db *sql.DB, migrationsDir string) error {
	files, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, mf := range files {
		if err := applyMigration(db, mf); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, mf migrationFile) (err error) {
	if len(mf.data) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mf.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seen int
	if err = tx.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", mf.name).Scan(&seen); err != nil {
		return fmt.Errorf("check migration %s: %w", mf.name, err)
	}
	if seen > 0 {
		return tx.Commit()
	}
	if _, err = tx.Exec(string(mf.data)); err != nil {
		return fmt.Errorf("exec migration %s: %w", mf.name, err)
	}
	if _, err = tx.Exec("INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)", mf.name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("record migration %s: %w", mf.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mf.name, err)
	}
	return nil
}

func loadMigrations(dir string) ([]migrationFile, error) {
	if dir != "" {
		files, err := readMigrationFS(os.DirFS(dir), ".")
		if err == nil {
			return files, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}
	files, err := readMigrationFS(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	return files, nil
}

func readMigrationFS(fsys fs.FS, root string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		files = append(files, migrationFile{name: entry.Name(), data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
