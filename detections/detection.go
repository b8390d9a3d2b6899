package detections

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/clustering"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// SessionOptions configures a single ONNX Runtime session.
type SessionOptions struct {
	ModelPath string
	Labels    []string
	Variant   Variant
	// InputWidth and InputHeight are used only when the model declares a
	// dynamic input size.
	InputWidth     int
	InputHeight    int
	IntraOpThreads int
	UseCUDA        bool
}

// PostprocessOptions are the thresholds applied to raw model output.
type PostprocessOptions struct {
	Threshold        float32
	NMSThreshold     float64
	OverlapThreshold float64
}

// DefaultPostprocessOptions mirrors the station defaults.
func DefaultPostprocessOptions() PostprocessOptions {
	return PostprocessOptions{
		Threshold:        ConfThreshold,
		NMSThreshold:     clustering.NMSThreshold,
		OverlapThreshold: clustering.OverlapThreshold,
	}
}

type ModelSession struct {
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	Variant      Variant
	Labels       []string
	Width        int
	Height       int
	preprocessor *Preprocessor
}

func NewModelSession(opts SessionOptions) (*ModelSession, error) {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read model info from %s", opts.ModelPath)
	}
	if len(inputInfo) != 1 || len(outputInfo) == 0 {
		return nil, errors.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputInfo), len(outputInfo))
	}

	in, out := inputInfo[0], outputInfo[0]
	width, height, err := inputSize(in.Dimensions, opts.InputWidth, opts.InputHeight)
	if err != nil {
		return nil, err
	}
	for _, d := range out.Dimensions {
		if d <= 0 {
			return nil, errors.Errorf("output %q has dynamic shape %v; export the model with a static shape", out.Name, out.Dimensions)
		}
	}

	labels := opts.Labels
	if len(labels) == 0 {
		labels = CocoLabels
	}
	variant, err := ResolveVariant(opts.Variant, out.Dimensions, len(labels))
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}
	if opts.UseCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrap(err, "create CUDA provider options")
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, errors.Wrap(err, "enable CUDA execution provider")
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(height), int64(width)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(out.Dimensions...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{in.Name},
		[]string{out.Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:      session,
		Input:        inputTensor,
		Output:       outputTensor,
		Variant:      variant,
		Labels:       labels,
		Width:        width,
		Height:       height,
		preprocessor: NewPreprocessor(width, height),
	}, nil
}

// inputSize reads W and H from an NCHW input shape, falling back to the
// given defaults for dynamic dimensions.
func inputSize(dims []int64, fallbackW, fallbackH int) (int, int, error) {
	if len(dims) != 4 {
		return 0, 0, errors.Errorf("expected NCHW image input, got shape %v", dims)
	}
	if dims[1] > 0 && dims[1] != 3 {
		return 0, 0, errors.Errorf("expected 3 input channels, got %d", dims[1])
	}
	width, height := int(dims[3]), int(dims[2])
	if width <= 0 {
		width = fallbackW
	}
	if height <= 0 {
		height = fallbackH
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errors.Errorf("model input size is dynamic (%v) and no fallback size was configured", dims)
	}
	return width, height, nil
}

func (m *ModelSession) Destroy() error {
	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
	}
	if m.Input != nil {
		err = multierr.Append(err, m.Input.Destroy())
	}
	if m.Output != nil {
		err = multierr.Append(err, m.Output.Destroy())
	}
	return err
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// ProcessImage runs one detection pass, retrying failed inferences.
func ProcessImage(
	ctx context.Context,
	img image.Image,
	model *ModelSession,
	opts PostprocessOptions,
	timings *models.ProcessingTimings,
) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			dets, err := processImageInternal(img, model, opts, timings)
			if err == nil {
				return dets, nil
			}
			lastErr = err

			if attempt < RetryAttempts {
				time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
				continue
			}
		}
	}

	return nil, &ProcessingError{Message: fmt.Sprintf("detection failed after %d attempts", RetryAttempts), Cause: lastErr}
}

func processImageInternal(img image.Image, model *ModelSession, opts PostprocessOptions, timings *models.ProcessingTimings) ([]models.Detection, error) {
	resizeStart := time.Now()
	letterboxed, lb := model.preprocessor.Letterbox(img)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	model.preprocessor.Fill(model.Input.GetData(), letterboxed)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := model.Session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	raw, err := Decode(model.Output.GetData(), model.Output.GetShape(), model.Variant, model.Labels, opts.Threshold, lb)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)

	filterStart := time.Now()
	dets := Filter(raw, opts)
	timings.Filtering = time.Since(filterStart)

	return dets, nil
}

// Filter applies per-class NMS and then cross-class duplicate suppression.
func Filter(dets []models.Detection, opts PostprocessOptions) []models.Detection {
	dets = clustering.NonMaxSuppression(dets, opts.NMSThreshold)
	return clustering.FilterOverlaps(dets, opts.OverlapThreshold)
}
