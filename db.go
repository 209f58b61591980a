package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// WriteArtifactDB writes the targets and the projected basic-block
// distances to a SQLite database, for consumers that prefer queries over
// the JSON artifacts.
func WriteArtifactDB(path string, targets []TargetLocation, df, bt, final blockTable, prog *Progress) error {
	prog.Log("Writing SQLite to %s ...", path)

	_ = os.Remove(path) // ignore if doesn't exist

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return fmt.Errorf("%w: open sqlite: %v", ErrIO, err)
	}
	defer func() { _ = conn.Close() }()

	// Performance pragmas
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA journal_mode = WAL",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrIO, pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, `
		CREATE TABLE targets (
			idx INTEGER PRIMARY KEY,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			weight REAL NOT NULL
		);
		CREATE TABLE bb_distance (
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			df TEXT,
			bt TEXT,
			final TEXT,
			PRIMARY KEY (file, line)
		);
	`, nil); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrIO, err)
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrIO, err)
	}

	err = insertArtifacts(conn, targets, df, bt, final)
	endFn(&err)
	if err != nil {
		return fmt.Errorf("%w: writing artifact db: %v", ErrIO, err)
	}
	prog.Log("Artifact DB done.")
	return nil
}

func insertArtifacts(conn *sqlite.Conn, targets []TargetLocation, df, bt, final blockTable) error {
	for i, t := range targets {
		file := ""
		if len(t.Chunks) > 0 {
			file = t.Chunks[0]
			for _, c := range t.Chunks[1:] {
				file += "/" + c
			}
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO targets (idx, file, line, weight) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{i, file, int64(t.Line), t.Weight}}); err != nil {
			return err
		}
	}

	type key struct {
		file string
		line uint32
	}
	keys := make(map[key]bool)
	for _, table := range []blockTable{df, bt, final} {
		for file, lines := range table {
			for line := range lines {
				keys[key{file, line}] = true
			}
		}
	}
	ordered := make([]key, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].file != ordered[j].file {
			return ordered[i].file < ordered[j].file
		}
		return ordered[i].line < ordered[j].line
	})

	vecJSON := func(t blockTable, k key) (any, error) {
		v, ok := t[k.file][k.line]
		if !ok {
			return nil, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	for _, k := range ordered {
		dfV, err := vecJSON(df, k)
		if err != nil {
			return err
		}
		btV, err := vecJSON(bt, k)
		if err != nil {
			return err
		}
		finalV, err := vecJSON(final, k)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO bb_distance (file, line, df, bt, final) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{k.file, int64(k.line), dfV, btV, finalV}}); err != nil {
			return err
		}
	}
	return nil
}
