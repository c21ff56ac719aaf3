package classifier

import (
	"context"
	"fmt"
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"go.uber.org/zap"
)

// TFLiteClassifier runs the pneumonia model through a TensorFlow Lite
// interpreter. The model is loaded once at construction and shared by all
// requests; Invoke is not safe for concurrent use, so inference is
// serialized with a mutex.
type TFLiteClassifier struct {
	interpreter *tflite.Interpreter
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewTFLiteClassifier loads the model artifact from modelPath and prepares
// the interpreter. Any failure here means the process has no model and must
// not start serving.
func NewTFLiteClassifier(modelPath string, logger *zap.Logger) (*TFLiteClassifier, error) {
	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("cannot load model from %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(1)
	options.SetErrorReporter(func(msg string, userData any) {
		logger.Error("tflite error", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	input := interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	if got, want := len(input.Float32s()), inputSize*inputSize*3; got != want {
		return nil, fmt.Errorf("unexpected input tensor size: got %d, want %d", got, want)
	}

	logger.Info("classifier model loaded",
		zap.String("model_path", modelPath),
		zap.Int("input_size", inputSize))

	return &TFLiteClassifier{interpreter: interpreter, logger: logger.Named("classifier")}, nil
}

// Classify runs one forward pass and thresholds the resulting probability.
// A payload that cannot be decoded yields ErrInvalidImage. There are no
// retries; transient inference failures surface to the caller.
func (c *TFLiteClassifier) Classify(ctx context.Context, imageBytes []byte) (*Result, error) {
	pixels, err := preprocess(imageBytes)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	input := c.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(input.Float32s(), pixels)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	output := c.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	scores := output.Float32s()
	if len(scores) == 0 {
		return nil, fmt.Errorf("empty output tensor")
	}

	probability := scores[0]
	result := &Result{Label: LabelFor(probability), Probability: probability}

	c.logger.Debug("classification complete",
		zap.String("label", result.Label),
		zap.Float32("probability", result.Probability))

	return result, nil
}
