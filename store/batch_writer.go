package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// GameWriter streams GameRecord rows into an open parquet file as
// self-play games finish, so an archive survives a crash between
// Finalize calls only up to the last-written row (the file itself is
// only visible under outDir once Finalize renames it out of tmp/).
type GameWriter struct {
	mu sync.Mutex

	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[GameRecord]

	bufferedGames int
}

// NewGameWriter opens a new archive file under outDir/tmp, named by the
// current time, ready to accept rows via Append.
func NewGameWriter(outDir string) (*GameWriter, error) {
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("games_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	outPath := filepath.Join(absOut, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[GameRecord](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", "game_record_v1")

	return &GameWriter{tmpPath: tmpPath, outPath: outPath, file: f, writer: w}, nil
}

// Append writes one finished game's row into the open archive.
func (g *GameWriter) Append(row GameRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writer == nil {
		return fmt.Errorf("game writer is closed")
	}
	if _, err := g.writer.Write([]GameRecord{row}); err != nil {
		return err
	}
	g.bufferedGames++
	return nil
}

// BufferedGames reports how many rows have been appended since opening.
func (g *GameWriter) BufferedGames() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bufferedGames
}

// Finalize closes the parquet writer and moves the file from tmp/ into
// its final location. If no rows were ever appended, the temp file is
// removed instead and outPath is returned empty.
func (g *GameWriter) Finalize() (outPath string, games int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writer == nil && g.file == nil {
		return "", 0, nil
	}

	games = g.bufferedGames
	outPath = g.outPath

	if g.writer != nil {
		if closeErr := g.writer.Close(); closeErr != nil {
			return "", 0, fmt.Errorf("close parquet writer: %w", closeErr)
		}
		g.writer = nil
	}
	if g.file != nil {
		_ = g.file.Sync()
		if closeErr := g.file.Close(); closeErr != nil {
			return "", 0, fmt.Errorf("close parquet file: %w", closeErr)
		}
		g.file = nil
	}

	if games == 0 {
		_ = os.Remove(g.tmpPath)
		return "", 0, nil
	}
	if err := os.Rename(g.tmpPath, g.outPath); err != nil {
		return "", 0, fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, games, nil
}
