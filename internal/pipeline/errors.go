package pipeline

import "errors"

var (
	// ErrAlreadyRecording is returned by StartRecording while a sink is open.
	ErrAlreadyRecording = errors.New("pipeline: already recording")

	// ErrNotRecording is returned by StopRecording when no sink is open.
	ErrNotRecording = errors.New("pipeline: not recording")

	// ErrSinkOpen wraps failures of the configured video.Opener.
	ErrSinkOpen = errors.New("pipeline: unable to open video stream")

	// ErrSinkWrite wraps per-frame encoder failures.
	ErrSinkWrite = errors.New("pipeline: unable to write video frame")

	// ErrSinkCloseTimeout is returned by StopRecording when an in-flight
	// write did not release the sink within the stop timeout.
	ErrSinkCloseTimeout = errors.New("pipeline: unable to close video stream")

	// ErrSnapshotSave wraps snapshot encoding and file errors.
	ErrSnapshotSave = errors.New("pipeline: unable to save snapshot")

	// ErrClosed is returned by operations on a closed pipeline.
	ErrClosed = errors.New("pipeline: closed")

	// ErrEmptyPath is returned when a snapshot or recording path is blank.
	ErrEmptyPath = errors.New("pipeline: path is empty")
)
