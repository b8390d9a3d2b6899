package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/mission"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// isoTimestamp matches the timestamp layout the rover frontend expects.
const isoTimestamp = "2006-01-02T15:04:05.000000"

type AppState struct {
	Config   *Config
	Detector *RoverDetector
	Logger   *zap.SugaredLogger
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

type detectErrorResponse struct {
	Error           string          `json:"error"`
	Objects         []models.Object `json:"objects"`
	TotalDetections int             `json:"total_detections"`
	Status          string          `json:"status"`
}

type detectResponse struct {
	models.DetectionReport
	Navigation models.Navigation `json:"navigation"`
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
}

type currentConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Device              string  `json:"device"`
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		ctx := r.Context()
		timings := &models.ProcessingTimings{RequestID: requestIDFrom(ctx)}
		maxBytes := state.Config.MaxUploadBytes

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		imgBytes, err := readImageBytes(r, maxBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				state.sendErrorResponse(w, fmt.Sprintf(MsgUploadTooLarge, units.BytesSize(float64(maxBytes))), http.StatusRequestEntityTooLarge)
			case errors.Is(err, ErrNoFrame):
				state.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: MsgNoFrame})
			default:
				state.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
			}
			return
		}

		// Decode image
		decodeStart := time.Now()
		img, err := decodeImage(imgBytes)
		timings.ImageDecode = time.Since(decodeStart)
		if err != nil {
			state.Logger.Debugw("rejecting upload", "request_id", timings.RequestID, "error", err)
			state.sendErrorResponse(w, MsgInvalidImage, http.StatusBadRequest)
			return
		}

		report, err := state.Detector.Detect(ctx, img, timings)
		if err != nil {
			status := detectErrorStatus(err)
			state.Logger.Errorw("Error in detect endpoint", "request_id", timings.RequestID, "error", err)
			message := MsgDetectionFailed + ": " + err.Error()
			if errors.Is(err, ErrAcquireTimeout) {
				message = MsgSessionsBusy
			}
			state.sendJSON(w, status, detectErrorResponse{
				Error:   message,
				Objects: []models.Object{},
				Status:  StatusError,
			})
			return
		}

		navigation := state.Detector.Navigate(report.Objects, report.ImageSize[0])

		timings.Total = time.Since(startTotal)
		logTimings(state.Logger, timings)
		state.Logger.Infow(fmt.Sprintf("Detected %d objects", report.TotalDetections),
			"request_id", timings.RequestID,
			"action", navigation.Action,
		)

		state.sendJSON(w, http.StatusOK, detectResponse{
			DetectionReport: report,
			Navigation:      navigation,
			Status:          StatusSuccess,
			RequestID:       timings.RequestID,
		})
	}
}

func detectErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrAcquireTimeout), errors.Is(err, ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleStatistics(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state.sendJSON(w, http.StatusOK, struct {
			Statistics models.Statistics `json:"statistics"`
			Status     string            `json:"status"`
		}{state.Detector.Statistics(), StatusSuccess})
	}
}

func handleConfig(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			state.sendErrorResponse(w, MsgInvalidConfig+": "+err.Error(), http.StatusBadRequest)
			return
		}

		if raw, ok := payload["confidence_threshold"]; ok {
			threshold, err := parseFlexibleFloat(raw)
			if err != nil {
				state.sendErrorResponse(w, "confidence_threshold: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := state.Detector.SetThreshold(threshold); err != nil {
				state.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
				return
			}
			state.Logger.Infof("Updated confidence threshold to %v", threshold)
		}

		state.sendJSON(w, http.StatusOK, struct {
			Message       string        `json:"message"`
			CurrentConfig currentConfig `json:"current_config"`
			Status        string        `json:"status"`
		}{
			Message: MsgConfigUpdated,
			CurrentConfig: currentConfig{
				ConfidenceThreshold: state.Detector.Threshold(),
				Device:              state.Detector.Device(),
			},
			Status: StatusSuccess,
		})
	}
}

// parseFlexibleFloat accepts a JSON number or a numeric string.
func parseFlexibleFloat(raw json.RawMessage) (float64, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, errors.New("expected a number, got null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.Errorf("expected a number, got %s", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Errorf("expected a number, got %q", s)
	}
	return f, nil
}

func handleHealth(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state.sendJSON(w, http.StatusOK, struct {
			Status      string   `json:"status"`
			ModelLoaded bool     `json:"model_loaded"`
			Device      string   `json:"device"`
			CPUFeatures []string `json:"cpu_features"`
			Timestamp   string   `json:"timestamp"`
		}{
			Status:      StatusHealthy,
			ModelLoaded: state.Detector.ModelLoaded(),
			Device:      state.Detector.Device(),
			CPUFeatures: detections.CPUFeatures(),
			Timestamp:   time.Now().Format(isoTimestamp),
		})
	}
}

func handleMissionObjects(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state.sendJSON(w, http.StatusOK, struct {
			MissionObjects mission.Remap `json:"mission_objects"`
			BalloonColors  []string      `json:"balloon_colors"`
			Status         string        `json:"status"`
		}{state.Detector.MissionObjects(), mission.BalloonColors, StatusSuccess})
	}
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics, loaded := s.Detector.backend.Metrics()
	if !loaded {
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"model_loaded": false,
			"message":      MsgModelNotLoaded,
		})
		return
	}
	s.sendJSON(w, http.StatusOK, struct {
		PoolMetrics
		ModelLoaded bool `json:"model_loaded"`
	}{metrics, true})
}

func (s *AppState) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Debugw("failed to encode response", "status", status, "error", err)
	}
}

func (s *AppState) sendErrorResponse(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, ErrorResponse{Error: message, Status: StatusError})
}
