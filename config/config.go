// Package config holds the engine's start-up configuration surface. Every
// field is read once at start-up and may be defaulted; a malformed options
// file produces errs.ErrConfig, is logged as a warning by the caller, and
// Load falls back to Default.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/climbtree/chesszero/errs"
)

// Config enumerates the full spec.md §6 surface.
type Config struct {
	InferenceThreads int `json:"inference_threads"`
	TrainingThreads  int `json:"training_threads"`

	SelfplayBatch int `json:"selfplay_batch"`
	SelfplayNodes int `json:"selfplay_nodes"`

	ReplayBufferSize  int `json:"replaybuffer_size"`
	RpbTrainPct       int `json:"rpb_train_pct"`
	TrainingSamplePct int `json:"training_sample_pct"`

	TrainingBatchSize      int     `json:"training_batchsize"`
	TrainingMLR            float64 `json:"training_mlr"`
	TrainingEpochs         int     `json:"training_epochs"`
	TrainingDetectAnomaly  bool    `json:"training_detect_anomaly"`

	Cpuct                 float64 `json:"cpuct"`
	ForceExpandUnvisited  bool    `json:"force_expand_unvisited"`
	UnvisitedNodeValuePct int     `json:"unvisited_node_value_pct"`
	BootstrapWeight       float64 `json:"bootstrap_weight"`
	BootstrapWindow       int     `json:"bootstrap_window"`
	BootstrapAmpPct       int     `json:"bootstrap_amp_pct"`
	ScaleCpuctByActions   bool    `json:"scale_cpuct_by_actions"`
	MCTSNoiseAlpha        float64 `json:"mcts_noise_alpha"`
	MCTSNoiseWeight       float64 `json:"mcts_noise_weight"`

	SelfplayAlphaInitial float64 `json:"selfplay_alpha_initial"`
	SelfplayAlphaDecay   float64 `json:"selfplay_alpha_decay"`
	SelfplayAlphaFinal   float64 `json:"selfplay_alpha_final"`
	SelfplayAlphaCutoff  int     `json:"selfplay_alpha_cutoff"`
	DrawValuePct         int     `json:"draw_value_pct"`

	FlushOldTrees bool `json:"flush_old_trees"`
	FlushOldRpb   bool `json:"flush_old_rpb"`

	EvaluateBatch     int `json:"evaluate_batch"`
	EvaluateGames     int `json:"evaluate_games"`
	EvaluateNodes     int `json:"evaluate_nodes"`
	EvaluateTargetPct int `json:"evaluate_target_pct"`

	ModelPath string `json:"model_path"`
}

// Default returns the engine's built-in defaults, chosen to be runnable on
// a single developer machine without a GPU.
func Default() Config {
	return Config{
		InferenceThreads: 2,
		TrainingThreads:  1,

		SelfplayBatch: 16,
		SelfplayNodes: 200,

		ReplayBufferSize:  65536,
		RpbTrainPct:       25,
		TrainingSamplePct: 10,

		TrainingBatchSize:     256,
		TrainingMLR:           0.001,
		TrainingEpochs:        1,
		TrainingDetectAnomaly: false,

		Cpuct:                 1.5,
		ForceExpandUnvisited:  true,
		UnvisitedNodeValuePct: 50,
		BootstrapWeight:       0.0,
		BootstrapWindow:       1,
		BootstrapAmpPct:       100,
		ScaleCpuctByActions:   false,
		MCTSNoiseAlpha:        0.3,
		MCTSNoiseWeight:       0.25,

		SelfplayAlphaInitial: 1.0,
		SelfplayAlphaDecay:   0.95,
		SelfplayAlphaFinal:   0.05,
		SelfplayAlphaCutoff:  30,
		DrawValuePct:         -20,

		FlushOldTrees: true,
		FlushOldRpb:   false,

		EvaluateBatch:     8,
		EvaluateGames:     40,
		EvaluateNodes:     200,
		EvaluateTargetPct: 55,

		ModelPath: "model.chkpt",
	}
}

// Load reads a JSON options file at path. On any failure it logs a warning
// through logger and returns Default() along with a wrapped errs.ErrConfig,
// matching spec.md §7's ConfigError policy: never fatal, never blocks
// start-up.
func Load(path string, logger *slog.Logger) (Config, error) {
	def := Default()
	if path == "" {
		return def, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if logger != nil {
			logger.Warn("config file unreadable, using defaults", "path", path, "err", err)
		}
		return def, errs.Wrap(errs.ErrConfig, fmt.Sprintf("read %s", path))
	}

	cfg := def
	if err := json.Unmarshal(b, &cfg); err != nil {
		if logger != nil {
			logger.Warn("config file malformed, using defaults", "path", path, "err", err)
		}
		return def, errs.Wrap(errs.ErrConfig, fmt.Sprintf("parse %s", path))
	}

	return cfg, nil
}

// Save writes cfg as indented JSON to path, matching the engine's atomic
// write-then-rename discipline used for model checkpoints in model/.
func Save(path string, cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrIO, "marshal config")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errs.Wrap(errs.ErrIO, "write config tmp")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.ErrIO, "rename config")
	}
	return nil
}
