// Package inference - ONNX Runtime sessions for single-image detection models.
package inference

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Tensor names exported by YOLO-style detection models.
const (
	InputName  = "images"
	OutputName = "output0"
)

// Options describes the model and how to run it.
type Options struct {
	// ModelPath is the ONNX file.
	ModelPath string
	// LibraryPath overrides the platform default onnxruntime shared library.
	LibraryPath string
	// InputSize is the square model input edge in pixels.
	InputSize int
	// NumClasses is the number of class scores per anchor.
	NumClasses int
	// Anchors is the number of candidate boxes the model emits.
	Anchors int
	// Provider selects the execution provider.
	Provider Provider
	// IntraOpThreads and InterOpThreads of 0 use the runtime defaults.
	IntraOpThreads int
	InterOpThreads int
}

// DefaultAnchors returns the anchor count of a YOLOv8 head for a square input:
// three strides (8, 16, 32) over the input edge.
func DefaultAnchors(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// Session represents a model session from the onnxruntime with its bound tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]

	opts Options
	mu   sync.Mutex
}

var initOnce sync.Once
var initErr error

// initEnvironment loads the shared library. It runs once per process.
func initEnvironment(libPath string) error {
	initOnce.Do(func() {
		if _, err := os.Stat(libPath); os.IsNotExist(err) {
			initErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		initErr = errors.Wrap(ort.InitializeEnvironment(), "initialize ORT environment")
	})
	return initErr
}

// NewSession creates an ONNX Runtime session with preallocated tensors.
//
// The input tensor is [1, 3, InputSize, InputSize] and the output tensor
// [1, 4+NumClasses, Anchors].
//
// Arguments:
//   - opts: Model location, shapes and execution provider.
//   - logger: Receives provider fallbacks.
//
// Returns:
//   - *Session: Ready to Run. The caller must Close it.
//   - error: When the runtime or the model cannot be loaded.
func NewSession(opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InputSize <= 0 || opts.NumClasses <= 0 {
		return nil, errors.Errorf("invalid model shape: input %d, classes %d", opts.InputSize, opts.NumClasses)
	}
	if opts.Anchors <= 0 {
		opts.Anchors = DefaultAnchors(opts.InputSize)
	}
	libPath := opts.LibraryPath
	if libPath == "" {
		libPath = SharedLibPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	size := int64(opts.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+opts.NumClasses), int64(opts.Anchors)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(opts.IntraOpThreads)
	options.SetInterOpNumThreads(opts.InterOpThreads)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)
	applyProvider(options, opts.Provider, logger)

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{InputName},
		[]string{OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "create ORT session for %s", opts.ModelPath)
	}

	return &Session{Session: session, Input: input, Output: output, opts: opts}, nil
}

// Options returns the options the session was created with.
func (s *Session) Options() Options {
	return s.opts
}

// InputData returns the input tensor's backing slice.
func (s *Session) InputData() []float32 {
	return s.Input.GetData()
}

// OutputData returns the output tensor's backing slice.
func (s *Session) OutputData() []float32 {
	return s.Output.GetData()
}

// Run executes the model on the current input tensor contents. Calls are
// serialized because the tensors are shared.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.Session.Run(), "run inference")
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	var err error
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		err = errors.Wrap(s.Session.Destroy(), "destroy ORT session")
		s.Session = nil
	}
	return err
}
