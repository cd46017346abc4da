// Package store archives finished self-play games and their training
// samples to disk as parquet files, for provenance and offline analysis
// beyond what the in-memory replay.Buffer retains. Every write goes
// through a temp-file-then-rename so a reader never observes a
// partially-written archive.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// GameRecord archives one finished self-play game: its PGN, result, and
// the model generation that produced it.
type GameRecord struct {
	GameID          string `parquet:"game_id,dict"`
	PGN             string `parquet:"pgn"`
	Result          string `parquet:"result,dict"`
	Plies           int32  `parquet:"plies"`
	ModelGeneration uint64 `parquet:"model_generation"`
	Source          string `parquet:"source,dict"`
}

// SampleRecord archives one replay.Buffer training tuple alongside its
// provenance (which game and ply it came from, and which model
// generation produced the search that labeled it).
type SampleRecord struct {
	GameID          string    `parquet:"game_id,dict"`
	Ply             int32     `parquet:"ply"`
	Obs             []float32 `parquet:"obs"`
	TargetPolicy    []float32 `parquet:"target_policy"`
	TargetValue     float32   `parquet:"target_value"`
	ModelGeneration uint64    `parquet:"model_generation"`
}

// WriteGames writes rows to outPath as a parquet file, replacing any
// existing file at that path atomically.
func WriteGames(outPath string, rows []GameRecord) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "game_record_v1"),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteGameBatch writes rows to a freshly named file under outDir and
// returns its final path, following the same tmp-dir-then-rename
// discipline as WriteGames.
func WriteGameBatch(outDir string, rows []GameRecord) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}
	name := fmt.Sprintf("games_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "game_record_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// WriteSampleBatch writes rows to a freshly named file under outDir and
// returns its final path.
func WriteSampleBatch(outDir string, rows []SampleRecord) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}
	name := fmt.Sprintf("samples_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("obs"),
		parquet.KeyValueMetadata("schema", "sample_record_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}
