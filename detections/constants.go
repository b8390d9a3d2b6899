package detections

const (
	InputWidth    = 640
	InputHeight   = 640
	ConfThreshold = 0.5
	RetryAttempts = 3
	RetryDelayMs  = 100

	// LetterboxFill is the gray used to pad letterboxed inputs.
	LetterboxFill = 114
)
