package compose

import "fmt"

// CompositingError is a fatal failure reading the source document or
// writing the output. Per-placement failures never produce one; they are
// reported as warnings instead.
type CompositingError struct {
	Stage string
	Err   error
}

func (e *CompositingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("compositing failed at %s", e.Stage)
	}
	return fmt.Sprintf("compositing failed at %s: %v", e.Stage, e.Err)
}

func (e *CompositingError) Unwrap() error {
	return e.Err
}

func compositingErr(stage string, err error) error {
	return &CompositingError{Stage: stage, Err: err}
}
