package detections

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var runtimeMu sync.Mutex

// SharedLibPath returns the ONNX Runtime library to load. An explicit path
// wins; otherwise the per-platform default under libDir is used.
func SharedLibPath(explicit, libDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrapf(err, "onnxruntime library %s", explicit)
		}
		return explicit, nil
	}
	name, err := defaultLibName()
	if err != nil {
		return "", err
	}
	return filepath.Join(libDir, name), nil
}

func defaultLibName() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "onnxruntime.dll", nil
		}
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "onnxruntime_arm64.dylib", nil
		}
		return "onnxruntime_amd64.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "onnxruntime_arm64.so", nil
		}
		return "onnxruntime.so", nil
	}
	switch arch := strings.Join([]string{runtime.GOOS, runtime.GOARCH}, "-"); arch {
	case "android-386":
		return "onnx-android-x86.so", nil
	}
	return "", errors.Errorf("unable to find a version of the onnxruntime library supporting %s %s", runtime.GOOS, runtime.GOARCH)
}

// InitializeRuntime loads the shared library and creates the ONNX Runtime
// environment. Calling it again after a successful init is a no-op.
func InitializeRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "initialize onnxruntime from %s", libPath)
	}
	return nil
}

// DestroyRuntime tears down the ONNX Runtime environment if it was created.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return errors.Wrap(ort.DestroyEnvironment(), "destroy onnxruntime environment")
}
