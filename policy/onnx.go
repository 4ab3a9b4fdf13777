package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/brensch/snekgym/game"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 32
	DefaultBatchTimeout = 1 * time.Millisecond
)

// OnnxConfig describes the exported model. The model takes a float32
// tensor [batch, dim*dim] of raw observation values and returns move
// scores [batch, 4]; the highest score wins.
type OnnxConfig struct {
	InputName    string
	OutputName   string
	BatchSize    int
	BatchTimeout time.Duration
}

type onnxRequest struct {
	input    []float32
	respChan chan onnxResponse
}

type onnxResponse struct {
	scores []float32
	err    error
}

// Onnx runs a trained model through ONNX Runtime. Concurrent Act calls
// on observations of the same size are batched into one session run.
type Onnx struct {
	session  *ort.DynamicAdvancedSession
	cfg      OnnxConfig
	requests chan onnxRequest
	done     chan struct{}
	stopped  chan struct{}
	closeOne sync.Once
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnx(modelPath string, cfg OnnxConfig) (*Onnx, error) {
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "policy"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	setSharedLibraryPath()
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{cfg.InputName}, []string{cfg.OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	o := &Onnx{
		session:  session,
		cfg:      cfg,
		requests: make(chan onnxRequest, cfg.BatchSize*2),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go o.batchLoop()
	return o, nil
}

// setSharedLibraryPath honours ORT_SHARED_LIBRARY_PATH, then looks for the
// library next to the working directory.
func setSharedLibraryPath() {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}
	if runtime.GOOS != "linux" {
		return
	}
	cwd, _ := os.Getwd()
	for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			ort.SetSharedLibraryPath(abs)
			return
		}
	}
}

func (o *Onnx) Name() string { return NameOnnx }

func (o *Onnx) Act(ctx context.Context, obs []int32, dim int) (game.Move, error) {
	if len(obs) != dim*dim {
		return game.MoveNone, fmt.Errorf("observation length %d does not match dim %d", len(obs), dim)
	}
	input := make([]float32, len(obs))
	for i, v := range obs {
		input[i] = float32(v)
	}

	respChan := make(chan onnxResponse, 1)
	select {
	case o.requests <- onnxRequest{input: input, respChan: respChan}:
	case <-o.done:
		return game.MoveNone, fmt.Errorf("onnx policy closed")
	case <-ctx.Done():
		return game.MoveNone, ctx.Err()
	}

	select {
	case resp := <-respChan:
		if resp.err != nil {
			return game.MoveNone, resp.err
		}
		return argmax(resp.scores), nil
	case <-ctx.Done():
		return game.MoveNone, ctx.Err()
	}
}

func (o *Onnx) Close() error {
	var err error
	o.closeOne.Do(func() {
		close(o.done)
		<-o.stopped
		err = o.session.Destroy()
	})
	return err
}

func (o *Onnx) batchLoop() {
	defer close(o.stopped)
	requests := make([]onnxRequest, 0, o.cfg.BatchSize)

	ticker := time.NewTicker(o.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) > 0 {
			o.runBatch(requests)
			requests = requests[:0]
		}
	}

	for {
		select {
		case <-o.done:
			for _, req := range requests {
				req.respChan <- onnxResponse{err: fmt.Errorf("onnx policy closed")}
			}
			return
		case req := <-o.requests:
			// Observations of a different size cannot share a tensor.
			if len(requests) > 0 && len(req.input) != len(requests[0].input) {
				flush()
			}
			requests = append(requests, req)
			if len(requests) >= o.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (o *Onnx) runBatch(requests []onnxRequest) {
	n := int64(len(requests))
	width := int64(len(requests[0].input))
	batch := make([]float32, 0, n*width)
	for _, req := range requests {
		batch = append(batch, req.input...)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(n, width), batch)
	if err != nil {
		failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, game.NumMoves))
	if err != nil {
		failBatch(requests, err)
		return
	}
	defer outputTensor.Destroy()

	if err := o.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		failBatch(requests, err)
		return
	}

	data := outputTensor.GetData()
	for i, req := range requests {
		scores := make([]float32, game.NumMoves)
		copy(scores, data[i*game.NumMoves:(i+1)*game.NumMoves])
		req.respChan <- onnxResponse{scores: scores}
	}
}

func failBatch(requests []onnxRequest, err error) {
	for _, req := range requests {
		req.respChan <- onnxResponse{err: err}
	}
}

func argmax(scores []float32) game.Move {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return game.Move(best)
}
