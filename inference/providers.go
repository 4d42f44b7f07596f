package inference

import (
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Provider represents different ONNX Runtime execution providers
type Provider string

const (
	// ProviderCPU uses the default CPU kernels.
	ProviderCPU Provider = "cpu"
	// ProviderCoreML uses Apple CoreML for macOS acceleration.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
)

// ParseProvider maps a config value to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderCPU, nil
	case ProviderCPU, ProviderCoreML, ProviderOpenVINO, ProviderCUDA:
		return p, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", s)
	}
}

// applyProvider enables p on options. Accelerators that fail to load fall
// back to CPU with a warning.
func applyProvider(options *ort.SessionOptions, p Provider, logger *zap.Logger) {
	var err error
	switch p {
	case ProviderCoreML:
		err = options.AppendExecutionProviderCoreML(0)
	case ProviderOpenVINO:
		err = options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		})
	case ProviderCUDA:
		var cuda *ort.CUDAProviderOptions
		cuda, err = ort.NewCUDAProviderOptions()
		if err == nil {
			defer cuda.Destroy()
			err = options.AppendExecutionProviderCUDA(cuda)
		}
	default:
		return
	}
	if err != nil {
		logger.Warn("execution provider unavailable, using cpu", zap.String("provider", string(p)), zap.Error(err))
	}
}

// SharedLibPath returns the path to the shared library for the current platform.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.1.23.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}
