package model

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxModel is the production Handle backend: a github.com/dylhunn-scale
// convolutional residual tower exported to ONNX and served through
// github.com/yalue/onnxruntime_go. It is grounded on
// brensch-snek2/executor/inference/onnx.go's session setup (shared
// library discovery, intra/inter-op thread pinning, optional CUDA
// provider) and tensor plumbing (ort.NewTensor / ort.NewEmptyTensor /
// session.Run), but drops that file's per-request channel+ticker batching
// loop: spec.md §4.4 makes the search worker itself responsible for
// assembling a full batch across its ibatch trees before calling Infer
// once, so OnnxModel.Infer runs synchronously against whatever batch it
// is handed rather than queuing individual requests.
type OnnxModel struct {
	mu         sync.RWMutex
	session    *ort.DynamicAdvancedSession
	modelPath  string
	generation uint64 // accessed via atomic
}

var ortInitOnce sync.Once
var ortInitErr error

// NewOnnxModel loads modelPath into a new ONNX Runtime session with one
// intra-op and one inter-op thread — the teacher pins both to 1 for the
// same reason this system does: many concurrent search workers each hold
// their own session or share one behind a mutex, so intra-session
// parallelism would only add contention.
func NewOnnxModel(modelPath string) (*OnnxModel, error) {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, errs.Wrap(errs.ErrIO, fmt.Sprintf("initialize onnxruntime: %v", ortInitErr))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "create onnx session options")
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if cudaOptions, err := ort.NewCUDAProviderOptions(); err == nil {
		defer cudaOptions.Destroy()
		_ = options.AppendExecutionProviderCUDA(cudaOptions)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "create onnx session")
	}

	return &OnnxModel{session: session, modelPath: modelPath}, nil
}

func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	}
	candidateDirs := []string{cwd}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}
	var toAdd []string
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}
	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

// Infer runs one ONNX session call over the full batch, matching spec.md
// §4.4 step 4: "call model.infer(batch, ibatch, policy, value)" once
// slots are filled, not once per tree.
func (m *OnnxModel) Infer(batch Batch) (Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := int64(batch.B)
	inputTensor, err := ort.NewTensor(ort.NewShape(b, int64(chess.H), int64(chess.W), int64(chess.F)), batch.Inputs)
	if err != nil {
		return Output{}, errs.Wrap(errs.ErrTransientEvaluator, "build onnx input tensor")
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, int64(chess.P)))
	if err != nil {
		return Output{}, errs.Wrap(errs.ErrTransientEvaluator, "allocate onnx policy tensor")
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, 1))
	if err != nil {
		return Output{}, errs.Wrap(errs.ErrTransientEvaluator, "allocate onnx value tensor")
	}
	defer valueTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		return Output{}, errs.Wrap(errs.ErrTransientEvaluator, "run onnx session")
	}

	out := Output{
		Policy: append([]float32(nil), policyTensor.GetData()...),
		Value:  append([]float32(nil), valueTensor.GetData()...),
	}
	return out, nil
}

// Train is unsupported on the ONNX backend: onnxruntime_go serves a
// frozen exported graph and has no autodiff/optimizer surface. Production
// training happens out of process against the same checkpoint format;
// this handle only ever consumes new weights via Read. Callers needing an
// in-process trainable handle should use DeepModel instead (spec.md §6's
// train() contract is still honored — just by a different backend).
func (m *OnnxModel) Train([]Sample, bool) error {
	return errs.Wrap(errs.ErrConfig, "onnx backend does not support in-process training")
}

func (m *OnnxModel) Clone() Handle {
	clone, err := NewOnnxModel(m.modelPath)
	errs.Invariant(err == nil, "failed to clone onnx model from its own checkpoint path")
	atomic.StoreUint64(&clone.generation, atomic.LoadUint64(&m.generation))
	return clone
}

func (m *OnnxModel) Generation() uint64 { return atomic.LoadUint64(&m.generation) }

// Write persists nothing on the ONNX backend: the ONNX graph is produced
// out of process, so Write always returns an errs.ErrConfig-wrapped error
// and writes neither weights nor the generation counter.
func (m *OnnxModel) Write(path string) error {
	return errs.Wrap(errs.ErrConfig, "onnx backend checkpoints are exported out of process; use Read to load them")
}

func (m *OnnxModel) Read(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.session.Destroy(); err != nil {
		return errs.Wrap(errs.ErrIO, "destroy prior onnx session")
	}
	fresh, err := NewOnnxModel(path)
	if err != nil {
		return err
	}
	m.session = fresh.session
	m.modelPath = path
	atomic.AddUint64(&m.generation, 1)
	return nil
}
