package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteGamesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "games.parquet")

	rows := []GameRecord{
		{GameID: "g1", PGN: "1. e4 e5 1/2-1/2", Result: "1/2-1/2", Plies: 2, ModelGeneration: 3, Source: "selfplay"},
	}
	if err := WriteGames(path, rows); err != nil {
		t.Fatalf("write games: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file should not survive a successful write")
	}
}

func TestWriteGameBatchNamesUnderOutDir(t *testing.T) {
	dir := t.TempDir()
	rows := []GameRecord{{GameID: "g1", PGN: "*", Result: "*"}}

	path, err := WriteGameBatch(dir, rows)
	if err != nil {
		t.Fatalf("write game batch: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("batch file %q not written under %q", path, dir)
	}
}

func TestWriteSampleBatchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := []SampleRecord{
		{GameID: "g1", Ply: 4, Obs: []float32{0.1, 0.2}, TargetPolicy: []float32{0.5, 0.5}, TargetValue: 0.3, ModelGeneration: 1},
	}
	path, err := WriteSampleBatch(dir, rows)
	if err != nil {
		t.Fatalf("write sample batch: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sample archive missing: %v", err)
	}
}

func TestGameWriterFinalizeRemovesEmptyTmpFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewGameWriter(dir)
	if err != nil {
		t.Fatalf("new game writer: %v", err)
	}
	path, games, err := w.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if path != "" || games != 0 {
		t.Fatalf("finalize with no rows should return empty path and 0 games, got (%q, %d)", path, games)
	}
}

func TestGameWriterAppendThenFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewGameWriter(dir)
	if err != nil {
		t.Fatalf("new game writer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(GameRecord{GameID: "g", PGN: "*", Result: "*"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if w.BufferedGames() != 3 {
		t.Fatalf("buffered games = %d, want 3", w.BufferedGames())
	}
	path, games, err := w.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if games != 3 {
		t.Fatalf("finalize games = %d, want 3", games)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("finalized archive missing: %v", err)
	}
}
