// Package store – backup.go implements export/import of the whole database
// and the recovery path for schema conflicts. Export reads the collection
// registry, never the live handle's reflection, so backups written by one
// schema version import cleanly (with reported skips) into another.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// BackupFormatVersion identifies the backup file layout.
const BackupFormatVersion = 1

// Backup is the on-disk backup file shape.
type Backup struct {
	ExportVersion int                         `json:"exportVersion"`
	ExportDate    string                      `json:"exportDate"`
	AppVersion    string                      `json:"appVersion"`
	Tables        []string                    `json:"tables"`
	Data          map[string][]map[string]any `json:"data"`
	Summary       BackupSummary               `json:"summary"`
}

// BackupSummary is a human-oriented record count.
type BackupSummary struct {
	TotalTables  int `json:"totalTables"`
	TotalRecords int `json:"totalRecords"`
}

// ImportReport describes what an import actually did.
type ImportReport struct {
	Imported map[string]int // table -> rows inserted
	Skipped  []string       // tables in the backup this build does not know
}

// Export dumps every registered collection into a Backup.
func (s *Store) Export(appVersion string) (*Backup, error) {
	return s.exportTables(appVersion, CollectionRegistry())
}

// exportTables dumps the named tables. Tables that do not exist are
// silently skipped so one list serves every schema version.
func (s *Store) exportTables(appVersion string, tables []string) (*Backup, error) {
	b := &Backup{
		ExportVersion: BackupFormatVersion,
		ExportDate:    time.Now().UTC().Format(time.RFC3339),
		AppVersion:    appVersion,
		Data:          map[string][]map[string]any{},
	}

	for _, table := range tables {
		exists, err := s.tableExists(table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		rows, err := s.dumpTable(table)
		if err != nil {
			return nil, fmt.Errorf("export table %s: %w", table, err)
		}
		b.Tables = append(b.Tables, table)
		b.Data[table] = rows
		b.Summary.TotalRecords += len(rows)
	}
	b.Summary.TotalTables = len(b.Tables)
	return b, nil
}

// Import restores a backup. Each known table is cleared first (destructive)
// and bulk-inserted; unknown tables are skipped and reported. The caller is
// responsible for confirming the destructive overwrite with the user.
func (s *Store) Import(b *Backup) (*ImportReport, error) {
	if b == nil || b.ExportVersion == 0 || b.Data == nil {
		return nil, fmt.Errorf("backup is missing exportVersion or data")
	}

	known := map[string]bool{}
	for _, t := range CollectionRegistry() {
		known[t] = true
	}

	report := &ImportReport{Imported: map[string]int{}}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Walk the registry order first so restores are deterministic, then
	// pick up any backup-only tables to report as skipped.
	for _, table := range CollectionRegistry() {
		records, ok := b.Data[table]
		if !ok {
			continue
		}
		n, err := importTable(tx, table, records)
		if err != nil {
			return nil, fmt.Errorf("import table %s: %w", table, err)
		}
		report.Imported[table] = n
	}
	for table := range b.Data {
		if !known[table] {
			report.Skipped = append(report.Skipped, table)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if len(report.Skipped) > 0 {
		s.logger.Warn("import skipped unknown tables", "tables", strings.Join(report.Skipped, ","))
	}
	return report, nil
}

// RecoveryBackupPath is where RecoverSchemaConflict writes the pre-drop
// backup of the conflicting database.
func RecoveryBackupPath(dbPath string) string {
	return dbPath + ".recovery-backup.json"
}

// RecoverSchemaConflict handles a database written by a newer build:
// export everything -> write the backup to disk -> drop -> recreate at
// SchemaVersion -> import. The export covers every table in the database,
// registry or not, so collections added by the newer build survive in the
// backup file and surface as Skipped on import. If the export or the disk
// write fails, nothing is dropped and the conflict is returned for manual
// resolution.
func RecoverSchemaConflict(path, appVersion string, logger *slog.Logger) (*Store, *ImportReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openRaw(path)
	if err != nil {
		return nil, nil, err
	}
	raw := &Store{db: db, logger: logger.With("component", "store")}

	all, err := raw.userTables()
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("list tables before recovery: %w", err)
	}
	inRegistry := map[string]bool{}
	tables := CollectionRegistry()
	for _, t := range tables {
		inRegistry[t] = true
	}
	var extra []string
	for _, t := range all {
		if !inRegistry[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	tables = append(tables, extra...)

	backup, err := raw.exportTables(appVersion, tables)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("backup before recovery failed, resolve manually: %w", err)
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("encode recovery backup: %w", err)
	}
	backupPath := RecoveryBackupPath(path)
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("write recovery backup, resolve manually: %w", err)
	}

	if err := raw.dropAllTables(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("drop newer schema: %w", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("reset user_version: %w", err)
	}
	if err := raw.migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}

	report, err := raw.Import(backup)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("restore after recovery: %w", err)
	}
	logger.Info("schema conflict recovered",
		"tables", len(report.Imported),
		"skipped", len(report.Skipped),
		"backup", backupPath,
		"version", SchemaVersion,
	)
	return raw, report, nil
}

// ---------- helpers ----------

func (s *Store) tableExists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// dumpTable reads every row of a table as a column->value map.
func (s *Store) dumpTable(table string) ([]map[string]any, error) {
	rows, err := s.db.Query("SELECT * FROM " + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// importTable clears the table and bulk-inserts the backup records,
// keeping only the columns the current schema knows.
func importTable(tx *sql.Tx, table string, records []map[string]any) (int, error) {
	cols, err := tableColumns(tx, table)
	if err != nil {
		return 0, err
	}
	colSet := map[string]bool{}
	for _, c := range cols {
		colSet[c] = true
	}

	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}

	inserted := 0
	for _, record := range records {
		var (
			names        []string
			placeholders []string
			args         []any
		)
		for col, val := range record {
			if !colSet[col] {
				continue
			}
			names = append(names, col)
			placeholders = append(placeholders, "?")
			args = append(args, normalizeValue(val))
		}
		if len(names) == 0 {
			continue
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.Exec(query, args...); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func tableColumns(tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// normalizeValue maps JSON-decoded values back to SQLite-friendly types.
// Backups round-trip through encoding/json, which turns integers into
// float64; integral floats go back to int64 so ids and timestamps survive.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case bool:
		return boolToInt(n)
	default:
		return v
	}
}

// userTables lists every table in the database, registry or not.
func (s *Store) userTables() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// dropAllTables removes every user table. Used only during conflict recovery.
func (s *Store) dropAllTables() error {
	tables, err := s.userTables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return nil
}
