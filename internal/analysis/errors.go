// Package analysis implements the message analysis pipeline: the analysis
// service client, the per-stage prompt shaping and parsing, the bounded
// context loader, and the orchestrator that fans stages out per conversation
// turn.
package analysis

import (
	"errors"
	"fmt"

	"github.com/arviso/client-pulse/internal/model"
)

var (
	// ErrContextLoad indicates the conversation context could not be
	// assembled. Fatal for the turn: no AnalysisResult is produced.
	ErrContextLoad = errors.New("analysis: context load failed")

	// ErrAllStagesFailed indicates every independent stage failed. Fatal for
	// the turn: no AnalysisResult is produced.
	ErrAllStagesFailed = errors.New("analysis: all stages failed")

	// ErrEmptyMessage indicates the inbound message had no content.
	ErrEmptyMessage = errors.New("analysis: message body is empty")
)

// StageError is a classified analysis service failure attributed to one stage.
type StageError struct {
	Stage model.Stage
	Kind  model.ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// kindOf extracts the error kind from a stage failure, defaulting to
// Unavailable for unclassified errors.
func kindOf(err error) model.ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return model.ErrorUnavailable
}
