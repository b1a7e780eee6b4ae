package quest

import (
	"errors"
	"fmt"
)

var (
	// ErrQuestNotFound: the catalog has no quest with the requested id.
	ErrQuestNotFound = errors.New("quest not found")
	// ErrQuestAlreadyActive matches *AlreadyActiveError via errors.Is.
	ErrQuestAlreadyActive = errors.New("quest already active")
	// ErrLocationNotInQuest: the check-in location is not part of the active quest.
	ErrLocationNotInQuest = errors.New("location not in quest")
	// ErrNoActiveQuest: a check-in arrived while no quest is active.
	ErrNoActiveQuest = errors.New("no active quest")
	// ErrPersistence wraps storage failures. The operation made no change
	// and can be retried as a whole.
	ErrPersistence = errors.New("quest persistence failure")
	// ErrConflict reports a lost optimistic-concurrency race inside a store.
	ErrConflict = errors.New("quest progress modified concurrently")
)

// AlreadyActiveError carries the id of the quest that blocks a new start so
// the caller can offer to resume it.
type AlreadyActiveError struct {
	QuestID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("quest already active: %s", e.QuestID)
}

func (e *AlreadyActiveError) Is(target error) bool {
	return target == ErrQuestAlreadyActive
}

// persistenceError wraps a storage error so that both errors.Is(err,
// ErrPersistence) and errors.Is(err, cause) hold.
type persistenceError struct {
	op    string
	cause error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.op, e.cause)
}

func (e *persistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *persistenceError) Unwrap() error { return e.cause }

func persistenceFailure(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return &persistenceError{op: op, cause: err}
}
