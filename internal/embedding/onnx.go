//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// bertTensors holds the fixed-shape buffers bound to a session. Run reads the three
// inputs in place and writes the pooled sentence vector to output.
type bertTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newBertTensors(seqLen, dimensions int) (*bertTensors, error) {
	t := &bertTensors{}
	inShape := ort.NewShape(1, int64(seqLen))
	var err error
	if t.inputIDs, err = ort.NewTensor(inShape, make([]int64, seqLen)); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if t.attentionMask, err = ort.NewTensor(inShape, make([]int64, seqLen)); err != nil {
		t.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if t.tokenTypeIDs, err = ort.NewTensor(inShape, make([]int64, seqLen)); err != nil {
		t.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if t.output, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		t.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return t, nil
}

func (t *bertTensors) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{t.inputIDs, t.attentionMask, t.tokenTypeIDs}
}

func (t *bertTensors) load(ids, mask, types []int64) {
	copy(t.inputIDs.GetData(), ids)
	copy(t.attentionMask.GetData(), mask)
	copy(t.tokenTypeIDs.GetData(), types)
}

func (t *bertTensors) destroy() {
	if t.inputIDs != nil {
		_ = t.inputIDs.Destroy()
	}
	if t.attentionMask != nil {
		_ = t.attentionMask.Destroy()
	}
	if t.tokenTypeIDs != nil {
		_ = t.tokenTypeIDs.Destroy()
	}
	if t.output != nil {
		_ = t.output.Destroy()
	}
	*t = bertTensors{}
}

// ONNXEmbedder runs a BERT-style sentence model through ONNX Runtime. Requires CGO
// and the onnxruntime shared library. Calls are serialized over one session.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *bertTensors
	tokenizer  Tokenizer
	modelPath  string
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath. Any failure is reported as
// models.ErrModelUnavailable.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if maxTokens <= 0 {
		maxTokens = defaultLen
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: initialize ONNX runtime: %w", models.ErrModelUnavailable, err)
		}
	}

	tensors, err := newBertTensors(maxTokens, dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		tensors.inputs(), []ort.ArbitraryTensor{tensors.output}, nil)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("%w: load %s: %w", models.ErrModelUnavailable, modelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  &SimpleTokenizer{},
		modelPath:  modelPath,
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-length sentence vector for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(text)
}

// EmbedBatch embeds texts in order, holding the session for the whole batch.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.run(text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// run must be called with mu held.
func (e *ONNXEmbedder) run(text string) ([]float32, error) {
	if e.session == nil {
		return nil, fmt.Errorf("%w: embedder closed", models.ErrModelUnavailable)
	}
	e.tensors.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference: %w", models.ErrModelUnavailable, err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.tensors.output.GetData())
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Name returns "onnx/<model file name>".
func (e *ONNXEmbedder) Name() string {
	return "onnx/" + filepath.Base(e.modelPath)
}

// Close releases the session and its tensors. Safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return err
}
