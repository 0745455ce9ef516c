package predictor

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"rebound-trader/internal/model"
)

const featureDim = 4

var ortInitOnce sync.Once

func initORT(libPath string) error {
	var err error
	ortInitOnce.Do(func() {
		if libPath == "" {
			switch runtime.GOOS {
			case "windows":
				libPath = "onnxruntime.dll"
			case "darwin":
				libPath = "libonnxruntime.dylib"
			default:
				libPath = "/usr/lib/libonnxruntime.so"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// ONNXPredictor runs the exported crash-rebound classifier in-process.
// The session is single-threaded by design: Predict is only ever called
// from the engine's scan phase, one candidate at a time.
type ONNXPredictor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXPredictor loads the model at modelPath. libPath optionally points
// at the onnxruntime shared library.
func NewONNXPredictor(modelPath, libPath string) (*ONNXPredictor, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: init runtime: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, featureDim), make([]float32, featureDim))
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	log.Printf("[predictor] loaded ONNX model %s", modelPath)
	return &ONNXPredictor{session: session, input: inputTensor, output: outputTensor}, nil
}

func (p *ONNXPredictor) Predict(ctx context.Context, fv model.FeatureVector) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.input.GetData(), fv.Floats())
	if err := p.session.Run(); err != nil {
		return 0, fmt.Errorf("%w: inference: %v", ErrUnavailable, err)
	}
	return clamp(float64(p.output.GetData()[0])), nil
}

// Close releases the ONNX session and tensors.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
	}
	if p.input != nil {
		p.input.Destroy()
	}
	if p.output != nil {
		p.output.Destroy()
	}
}

var _ Predictor = (*ONNXPredictor)(nil)
