package events

// Event type constants
const (
	EventTypeQuizStarted         = "quiz_started"
	EventTypeQuizCompleted       = "quiz_completed"
	EventTypeQuizTimeout         = "quiz_timeout"
	EventTypeAnswerSubmitted     = "answer_submitted"
	EventTypeAnswerChanged       = "answer_changed"
	EventTypeQuestionViewed      = "question_viewed"
	EventTypeQuestionSkipped     = "question_skipped"
	EventTypeTimerStarted        = "timer_started"
	EventTypeTimerTick           = "timer_tick"
	EventTypeTimerWarning        = "timer_warning"
	EventTypeMasteryUpdated      = "mastery_updated"
	EventTypeLearningGapDetected = "learning_gap_detected"
	EventTypeSessionCreated      = "session_created"
	EventTypeSessionEnded        = "session_ended"
	EventTypeErrorOccurred       = "error_occurred"
)

// Types is the registry of known event types with human-readable
// descriptions. Publishing an unregistered type is rejected at the
// ingestion boundary; the router itself treats types as opaque strings.
var Types = map[string]string{
	EventTypeQuizStarted:         "Student started a quiz session",
	EventTypeQuizCompleted:       "Student completed/submitted quiz",
	EventTypeQuizTimeout:         "Quiz timer expired",
	EventTypeAnswerSubmitted:     "Student submitted an answer",
	EventTypeAnswerChanged:       "Student changed their answer",
	EventTypeQuestionViewed:      "Student viewed a question",
	EventTypeQuestionSkipped:     "Student skipped a question",
	EventTypeTimerStarted:        "Session timer started",
	EventTypeTimerTick:           "Timer tick (usually every second)",
	EventTypeTimerWarning:        "Timer warning threshold reached",
	EventTypeMasteryUpdated:      "Student mastery level changed",
	EventTypeLearningGapDetected: "Learning gap identified",
	EventTypeSessionCreated:      "New session created",
	EventTypeSessionEnded:        "Session ended",
	EventTypeErrorOccurred:       "Error in system",
}

// IsKnownType reports whether the given event type is registered.
func IsKnownType(eventType string) bool {
	_, ok := Types[eventType]
	return ok
}
