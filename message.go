package main

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHealthy = "healthy"

	MsgNoFrame         = "No frame provided"
	MsgInvalidImage    = "Failed to decode image"
	MsgConfigUpdated   = "Configuration updated successfully"
	MsgInvalidConfig   = "Invalid configuration payload"
	MsgUploadTooLarge  = "Upload exceeds the %s limit"
	MsgModelNotLoaded  = "Model is not loaded yet"
	MsgSessionsBusy    = "All model sessions are busy, retry shortly"
	MsgDetectionFailed = "Detection failed"
)
