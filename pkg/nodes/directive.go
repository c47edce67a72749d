package nodes

import (
	"errors"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// ErrConditionAllFalse is the cause recorded when a branching node has no matching edge.
var ErrConditionAllFalse = errors.New("no outgoing condition matched and no default edge")

// DirectiveKind is the transition a node asks for.
type DirectiveKind int

const (
	// DirectiveContinue advances to Next without waiting.
	DirectiveContinue DirectiveKind = iota
	// DirectiveSuspend stops the transition loop until an event arrives.
	DirectiveSuspend
	// DirectiveTerminate ends the conversation.
	DirectiveTerminate
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveContinue:
		return "continue"
	case DirectiveSuspend:
		return "suspend"
	case DirectiveTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Directive is the outcome of executing one node.
type Directive struct {
	Kind DirectiveKind

	// Continue
	Next   string
	FlowID string // set for cross-flow jumps; Next may then be empty for the flow's entry

	// Suspend
	WaitingFor models.WaitingFor
	Duration   time.Duration
	Call       *APICall
	Attempts   int
	// Keep leaves the current wait untouched, including its timer and token.
	Keep bool

	// Terminate
	Status     models.ConversationStatus
	Reason     string
	Transcript bool

	// Err is the cause behind an error route or a failure, for logging.
	Err error
}

func Continue(next string) Directive {
	return Directive{Kind: DirectiveContinue, Next: next}
}

// ContinueInFlow jumps to node next of another flow. An empty next means the flow's entry node.
func ContinueInFlow(flowID, next string) Directive {
	return Directive{Kind: DirectiveContinue, Next: next, FlowID: flowID}
}

// WaitForInput suspends until the user answers. attempts is carried to the next visit.
func WaitForInput(attempts int) Directive {
	return Directive{Kind: DirectiveSuspend, WaitingFor: models.WaitingForInput, Attempts: attempts}
}

func WaitForTimer(d time.Duration) Directive {
	return Directive{Kind: DirectiveSuspend, WaitingFor: models.WaitingForTimer, Duration: d}
}

// WaitForAPI suspends while call runs outside of the conversation's worker.
func WaitForAPI(call *APICall) Directive {
	return Directive{Kind: DirectiveSuspend, WaitingFor: models.WaitingForAPI, Call: call, Duration: call.Timeout}
}

// Stay keeps the conversation suspended exactly as it was.
func Stay(waitingFor models.WaitingFor, attempts int) Directive {
	return Directive{Kind: DirectiveSuspend, WaitingFor: waitingFor, Attempts: attempts, Keep: true}
}

// End terminates the conversation successfully.
func End(reason string) Directive {
	return Directive{Kind: DirectiveTerminate, Status: models.ConversationStatusEnded, Reason: reason}
}

// Fail terminates the conversation as failed.
func Fail(reason string, err error) Directive {
	return Directive{Kind: DirectiveTerminate, Status: models.ConversationStatusFailed, Reason: reason, Err: err}
}
