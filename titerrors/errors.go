// Package titerrors defines the error kinds raised across the TI-Toolbox
// simulation orchestration core. Each kind is a distinct type carrying a
// stable code, so callers can branch on kind with errors.As instead of
// string matching, while Error() still renders a readable message.
package titerrors

import "fmt"

// ConfigError reports invalid or missing configuration: bad intensity
// strings, unknown flex montage shapes, unresolved paths, invalid
// generated montage names.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error in %s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("config error in %s: %s", e.Component, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) Code() string  { return "CONFIG_ERROR" }

// NewConfigError builds a ConfigError.
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// InputError reports shape-mismatched or otherwise invalid numeric input,
// principally into the TI Kernel.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return fmt.Sprintf("input error: %s", e.Message) }
func (e *InputError) Code() string  { return "INPUT_ERROR" }

// NewInputError builds an InputError.
func NewInputError(format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// IOError reports a missing filesystem dependency: m2m directory, head
// mesh, EEG cap, leadfield.
type IOError struct {
	Path    string
	Message string
	Err     error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("io error: %s (%s): %v", e.Message, e.Path, e.Err)
	}
	return fmt.Sprintf("io error: %s (%s)", e.Message, e.Path)
}

func (e *IOError) Unwrap() error { return e.Err }
func (e *IOError) Code() string  { return "IO_ERROR" }

// NewIOError builds an IOError.
func NewIOError(path, message string, err error) *IOError {
	return &IOError{Path: path, Message: message, Err: err}
}

// SolverError reports a non-zero exit, or other failure, from the
// external finite-element solver collaborator.
type SolverError struct {
	Montage string
	Message string
	Err     error
}

func (e *SolverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("solver error for montage %s: %s: %v", e.Montage, e.Message, e.Err)
	}
	return fmt.Sprintf("solver error for montage %s: %s", e.Montage, e.Message)
}

func (e *SolverError) Unwrap() error { return e.Err }
func (e *SolverError) Code() string  { return "SOLVER_ERROR" }

// NewSolverError builds a SolverError.
func NewSolverError(montage, message string, err error) *SolverError {
	return &SolverError{Montage: montage, Message: message, Err: err}
}

// PostprocessError reports a failed field extraction, NIfTI conversion,
// or file move that leaves a montage's canonical output incomplete.
type PostprocessError struct {
	Montage string
	Step    string
	Err     error
}

func (e *PostprocessError) Error() string {
	return fmt.Sprintf("postprocess error for montage %s at step %s: %v", e.Montage, e.Step, e.Err)
}

func (e *PostprocessError) Unwrap() error { return e.Err }
func (e *PostprocessError) Code() string  { return "POSTPROCESS_ERROR" }

// NewPostprocessError builds a PostprocessError.
func NewPostprocessError(montage, step string, err error) *PostprocessError {
	return &PostprocessError{Montage: montage, Step: step, Err: err}
}

// Cancelled reports cooperative cancellation observed before or during
// scheduling of a unit of work.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

func (e *Cancelled) Code() string { return "CANCELLED" }

// NewCancelled builds a Cancelled error.
func NewCancelled(reason string) *Cancelled {
	return &Cancelled{Reason: reason}
}

// Coded is implemented by every error kind in this package.
type Coded interface {
	error
	Code() string
}
