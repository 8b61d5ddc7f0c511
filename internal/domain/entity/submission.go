package entity

// SubmissionState estado de un envío lógico de movimiento.
//
//	Idle -> Validating -> Committing -> Committed | Rejected | Failed
//
// Validating es opcional (pre-chequeo consultivo); un envío puede saltar de Idle a Committing.
type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "idle"
	SubmissionValidating SubmissionState = "validating"
	SubmissionCommitting SubmissionState = "committing"
	SubmissionCommitted  SubmissionState = "committed"
	SubmissionRejected   SubmissionState = "rejected"
	SubmissionFailed     SubmissionState = "failed"
)

var submissionTransitions = map[SubmissionState][]SubmissionState{
	SubmissionIdle:       {SubmissionValidating, SubmissionCommitting, SubmissionRejected},
	SubmissionValidating: {SubmissionCommitting, SubmissionRejected},
	SubmissionCommitting: {SubmissionCommitted, SubmissionRejected, SubmissionFailed},
}

// CanTransition indica si el paso s -> to es válido.
func (s SubmissionState) CanTransition(to SubmissionState) bool {
	for _, next := range submissionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal indica si el estado es final.
func (s SubmissionState) Terminal() bool {
	return s == SubmissionCommitted || s == SubmissionRejected || s == SubmissionFailed
}

// Cancellable indica si el llamador aún puede abandonar el envío.
// Una vez en Committing el envío corre hasta un estado terminal.
func (s SubmissionState) Cancellable() bool {
	return s == SubmissionIdle || s == SubmissionValidating
}
