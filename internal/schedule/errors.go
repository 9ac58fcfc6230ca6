package schedule

import "errors"

var (
	// ErrScheduleNotFound is returned when the schedule does not exist.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrTrackNotFound is returned when a session targets an unknown track.
	ErrTrackNotFound = errors.New("track not found")
	// ErrSessionNotFound is returned when updating or deleting a missing session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when adding a session whose id is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrConflict is returned when a session would overlap another on its track.
	ErrConflict = errors.New("session overlaps another session on the track")
	// ErrInvalidSlot is returned when a session ends before it starts.
	ErrInvalidSlot = errors.New("invalid timeslot")
	// ErrInvalidLayout is returned when an imported layout fails validation.
	ErrInvalidLayout = errors.New("invalid schedule layout")
	// ErrTrackInUse is returned when a layout removes a track that still has sessions.
	ErrTrackInUse = errors.New("track still has sessions")
)
