package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	miniLMMaxLen = 128
	ortVersion   = "1.22.0"
)

var (
	miniLMModelURLs = []string{
		"https://huggingface.co/Xenova/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx",
		"https://huggingface.co/onnx-community/all-MiniLM-L6-v2/resolve/main/model.onnx",
	}
	miniLMVocabURLs = []string{
		"https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/vocab.txt",
	}
)

// ortOnce guards the process-wide ONNX Runtime environment.
var (
	ortOnce sync.Once
	ortErr  error
)

// miniLM runs all-MiniLM-L6-v2 through ONNX Runtime: WordPiece tokens in,
// attention-masked mean pooling over last_hidden_state, L2 normalized out.
type miniLM struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPiece
	maxLen    int
}

// NewMiniLM loads (downloading on first use) the model and vocabulary into
// modelDir. libPath points at the ONNX Runtime shared library; when empty the
// official release for this platform is fetched into the temp dir.
func NewMiniLM(modelDir, libPath string, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "embeddings.minilm"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("minilm: create model dir: %w", err)
	}
	if libPath == "" {
		var err error
		libPath, err = ensureRuntimeLib(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("minilm: onnxruntime library: %w", err)
		}
	}

	modelPath := filepath.Join(modelDir, "model.onnx")
	vocabPath := filepath.Join(modelDir, "vocab.txt")
	if err := ensureFile(ctx, logger, modelPath, miniLMModelURLs, 3*time.Minute); err != nil {
		return nil, fmt.Errorf("minilm: model: %w", err)
	}
	if err := ensureFile(ctx, logger, vocabPath, miniLMVocabURLs, time.Minute); err != nil {
		return nil, fmt.Errorf("minilm: vocab: %w", err)
	}

	vf, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("minilm: open vocab: %w", err)
	}
	tokenizer, err := loadWordPiece(vf)
	vf.Close()
	if err != nil {
		return nil, fmt.Errorf("minilm: %w", err)
	}

	ortOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	if ortErr != nil {
		return nil, fmt.Errorf("minilm: initialize onnxruntime: %w", ortErr)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("minilm: create session: %w", err)
	}
	logger.Info("minilm embeddings ready", zap.String("model", modelPath))
	return &miniLM{session: session, tokenizer: tokenizer, maxLen: miniLMMaxLen}, nil
}

// Close releases the ONNX session.
func (m *miniLM) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func (m *miniLM) Embed(ctx context.Context, inputs []string) ([][]float32, string, error) {
	if len(inputs) == 0 {
		return nil, ModelMiniLM, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, ModelMiniLM, err
	}

	bsz, seq := len(inputs), m.maxLen
	ids := make([]int64, bsz*seq)
	mask := make([]int64, bsz*seq)
	for i, text := range inputs {
		ii, mm := m.tokenizer.encode(text, seq)
		copy(ids[i*seq:], ii)
		copy(mask[i*seq:], mm)
	}
	shape := ort.NewShape(int64(bsz), int64(seq))

	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, ModelMiniLM, fmt.Errorf("minilm: input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, ModelMiniLM, fmt.Errorf("minilm: attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, make([]int64, bsz*seq))
	if err != nil {
		return nil, ModelMiniLM, fmt.Errorf("minilm: token_type_ids tensor: %w", err)
	}
	defer typesT.Destroy()

	outputs := []ort.Value{nil}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ModelMiniLM, errors.New("minilm: session closed")
	}
	err = m.session.Run([]ort.Value{idsT, maskT, typesT}, outputs)
	m.mu.Unlock()
	if err != nil {
		return nil, ModelMiniLM, fmt.Errorf("minilm: run: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, ModelMiniLM, errors.New("minilm: unexpected output type")
	}
	dims := hidden.GetShape()
	if len(dims) != 3 {
		return nil, ModelMiniLM, fmt.Errorf("minilm: unexpected output shape %v", dims)
	}
	return meanPool(hidden.GetData(), mask, bsz, int(dims[1]), int(dims[2])), ModelMiniLM, nil
}

// meanPool averages token states where mask is set, then L2-normalizes.
func meanPool(data []float32, mask []int64, bsz, seq, hidden int) [][]float32 {
	out := make([][]float32, bsz)
	for i := 0; i < bsz; i++ {
		vec := make([]float32, hidden)
		var count float32
		for j := 0; j < seq; j++ {
			if mask[i*seq+j] == 0 {
				continue
			}
			base := (i*seq + j) * hidden
			for d := 0; d < hidden; d++ {
				vec[d] += data[base+d]
			}
			count++
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
			normalize(vec)
		}
		out[i] = vec
	}
	return out
}

func ensureRuntimeLib(ctx context.Context, logger *zap.Logger) (string, error) {
	dir := filepath.Join(os.TempDir(), "onnxruntime", "v"+ortVersion)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := "https://github.com/microsoft/onnxruntime/releases/download/v" + ortVersion + "/"

	switch runtime.GOOS {
	case "linux":
		lib := filepath.Join(dir, "libonnxruntime.so")
		arch := "x64"
		if runtime.GOARCH == "arm64" {
			arch = "aarch64"
		}
		return lib, extractRuntime(ctx, logger, lib, base+"onnxruntime-linux-"+arch+"-"+ortVersion+".tgz")
	case "darwin":
		lib := filepath.Join(dir, "libonnxruntime.dylib")
		return lib, extractRuntime(ctx, logger, lib, base+"onnxruntime-osx-universal2-"+ortVersion+".tgz")
	case "windows":
		lib := filepath.Join(dir, "onnxruntime.dll")
		return lib, extractRuntime(ctx, logger, lib, base+"onnxruntime-win-x64-"+ortVersion+".zip")
	default:
		return "", fmt.Errorf("unsupported platform %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

func extractRuntime(ctx context.Context, logger *zap.Logger, lib, archiveURL string) error {
	if fileExists(lib) {
		return nil
	}
	archive := filepath.Join(filepath.Dir(lib), filepath.Base(archiveURL))
	if err := ensureFile(ctx, logger, archive, []string{archiveURL}, 4*time.Minute); err != nil {
		return err
	}
	defer os.Remove(archive)
	if strings.HasSuffix(archive, ".zip") {
		return unzipOne(archive, filepath.Dir(lib), filepath.Base(lib))
	}
	return untarOne(archive, filepath.Dir(lib), filepath.Base(lib))
}
