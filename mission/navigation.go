package mission

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

const (
	ActionContinueSearch = "continue_search"
	ActionMoveForward    = "move_forward"
	ActionTurnLeft       = "turn_left"
	ActionTurnRight      = "turn_right"

	// DefaultDeadband is the pixel distance from the image center within
	// which the rover drives straight.
	DefaultDeadband = 50

	msgNoObjects = "No objects detected, continue searching"
)

// PrimaryObject returns the highest-confidence object; the first one wins ties.
func PrimaryObject(objects []models.Object) (models.Object, bool) {
	if len(objects) == 0 {
		return models.Object{}, false
	}
	return lo.MaxBy(objects, func(a, b models.Object) bool {
		return a.Confidence > b.Confidence
	}), true
}

// Navigate steers toward the primary object.
func Navigate(objects []models.Object, imageWidth, deadband int) models.Navigation {
	primary, ok := PrimaryObject(objects)
	if !ok {
		return models.Navigation{Action: ActionContinueSearch, Message: msgNoObjects}
	}

	imageCenter := imageWidth / 2
	offset := primary.Center.X - imageCenter

	var action string
	switch {
	case abs(offset) < deadband:
		action = ActionMoveForward
	case primary.Center.X < imageCenter-deadband:
		action = ActionTurnLeft
	default:
		action = ActionTurnRight
	}

	confidence := primary.Confidence
	return models.Navigation{
		Action:     action,
		Message:    fmt.Sprintf("Target %s at %s", primary.Class, strings.ReplaceAll(action, "_", " ")),
		Target:     primary.Class,
		Confidence: &confidence,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
