package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow (or flow version) was not found.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrConversationNotFound indicates a conversation was not found.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTimerNotFound indicates no timer is pending for a conversation.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrFlowVersionExists indicates the flow version was already saved.
	ErrFlowVersionExists = errors.New("flow version already exists")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op      string // Operation being performed (e.g., "FlowByID", "SaveFlow")
	FlowID  string
	Version int // 0 when not version specific
	Err     error
}

func (e *FlowError) Error() string {
	target := e.FlowID
	if e.Version > 0 {
		target = fmt.Sprintf("%s@v%d", e.FlowID, e.Version)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, target, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// NewFlowVersionError creates a new flow error for a specific version.
func NewFlowVersionError(op, flowID string, version int, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Version: version, Err: err}
}

// ConversationError wraps conversation-related errors with additional context.
type ConversationError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *ConversationError) Error() string {
	return fmt.Sprintf("%s operation failed for conversation %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *ConversationError) Unwrap() error {
	return e.Err
}

func (e *ConversationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewConversationError creates a new conversation error with context.
func NewConversationError(op, conversationID string, err error) *ConversationError {
	return &ConversationError{Op: op, ConversationID: conversationID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsConversationNotFound checks if an error indicates a conversation was not found.
func IsConversationNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

// IsTimerNotFound checks if an error indicates no timer exists.
func IsTimerNotFound(err error) bool {
	return errors.Is(err, ErrTimerNotFound)
}
