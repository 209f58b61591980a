package main

import (
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestWriteArtifactDB(t *testing.T) {
	df := blockTable{"src/a.c": {3: DistVec{0, -1}, 4: DistVec{1, 2}}}
	bt := blockTable{"src/a.c": {3: DistVec{0, 5}}}
	final := finalTable(df, bt)
	targets := []TargetLocation{target("src/a.c", 3), target("src/b.c", 9)}

	path := filepath.Join(t.TempDir(), "dist.db")
	if err := WriteArtifactDB(path, targets, df, bt, final, NewProgress(false)); err != nil {
		t.Fatal(err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var targetCount, blockCount int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM targets", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			targetCount = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM bb_distance", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blockCount = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if targetCount != 2 {
		t.Errorf("targets: got %d, want 2", targetCount)
	}
	if blockCount != 2 {
		t.Errorf("blocks: got %d, want 2", blockCount)
	}

	var df3, weight string
	err = sqlitex.Execute(conn,
		"SELECT df, (SELECT weight FROM targets WHERE idx = 0) FROM bb_distance WHERE file = 'src/a.c' AND line = 3",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				df3 = stmt.ColumnText(0)
				weight = stmt.ColumnText(1)
				return nil
			},
		})
	if err != nil {
		t.Fatal(err)
	}
	if df3 != "[0,-1]" {
		t.Errorf("df vector: got %q, want [0,-1]", df3)
	}
	if weight != "1.0" && weight != "1" {
		t.Errorf("weight: got %q", weight)
	}
}
