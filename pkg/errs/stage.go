package errs

import "fmt"

// Stage names the step of an auth flow that failed.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StagePublish   Stage = "publish"
	StageChallenge Stage = "challenge"
	StageSignature Stage = "signature"
	StageSession   Stage = "session"
)

// StageError reports which stage of an operation failed and keeps the cause inspectable.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	switch e.Stage {
	case StageResolve:
		return fmt.Sprintf("failed to resolve homeserver: %v", e.Err)
	case StagePublish:
		return fmt.Sprintf("failed to publish homeserver: %v", e.Err)
	case StageChallenge:
		return fmt.Sprintf("failed to get challenge: %v", e.Err)
	case StageSignature:
		return fmt.Sprintf("failed to send user signature: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// Wrap returns err tagged with stage, or nil when err is nil.
func Wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage of the outermost StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	for err != nil {
		if se, ok := err.(*StageError); ok {
			return se.Stage, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}
