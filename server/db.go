package main

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("not found")

// DB wraps the artifact database written by the analyzer.
type DB struct {
	db *sql.DB
}

func NewDB(db *sql.DB) *DB { return &DB{db: db} }

// Target mirrors one row of the targets table.
type Target struct {
	Index  int     `json:"index"`
	File   string  `json:"file"`
	Line   int64   `json:"line"`
	Weight float64 `json:"weight"`
}

// Targets returns all targets in index order.
func (d *DB) Targets() ([]Target, error) {
	rows, err := d.db.Query("SELECT idx, file, line, weight FROM targets ORDER BY idx")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := []Target{}
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.Index, &t.File, &t.Line, &t.Weight); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// BlockDistance is the distance record of one basic block. The vectors
// are nil when the corresponding map has no entry for the block.
type BlockDistance struct {
	File  string  `json:"file"`
	Line  int64   `json:"line"`
	Df    []int32 `json:"df"`
	Bt    []int32 `json:"bt"`
	Final []int32 `json:"final"`
}

func parseVec(s sql.NullString) ([]int32, error) {
	if !s.Valid {
		return nil, nil
	}
	var v []int32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Distance looks up one basic block by relative source path and line.
func (d *DB) Distance(file string, line int64) (BlockDistance, error) {
	row := d.db.QueryRow(
		"SELECT file, line, df, bt, final FROM bb_distance WHERE file = ? AND line = ?",
		file, line)
	var (
		b              BlockDistance
		df, bt, final sql.NullString
	)
	if err := row.Scan(&b.File, &b.Line, &df, &bt, &final); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	var err error
	if b.Df, err = parseVec(df); err != nil {
		return b, err
	}
	if b.Bt, err = parseVec(bt); err != nil {
		return b, err
	}
	if b.Final, err = parseVec(final); err != nil {
		return b, err
	}
	return b, nil
}

// Summary aggregates per-artifact block counts.
type Summary struct {
	Targets     int `json:"targets"`
	Blocks      int `json:"blocks"`
	WithDf      int `json:"with_df"`
	WithBt      int `json:"with_bt"`
	WithFinal   int `json:"with_final"`
	SourceFiles int `json:"source_files"`
}

// Stats reports row counts for the summary endpoint.
func (d *DB) Stats() (Summary, error) {
	var s Summary
	row := d.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM targets),
			(SELECT COUNT(*) FROM bb_distance),
			(SELECT COUNT(*) FROM bb_distance WHERE df IS NOT NULL),
			(SELECT COUNT(*) FROM bb_distance WHERE bt IS NOT NULL),
			(SELECT COUNT(*) FROM bb_distance WHERE final IS NOT NULL),
			(SELECT COUNT(DISTINCT file) FROM bb_distance)`)
	err := row.Scan(&s.Targets, &s.Blocks, &s.WithDf, &s.WithBt, &s.WithFinal, &s.SourceFiles)
	return s, err
}
