package verification

import (
	"fmt"
	"time"

	"ticket-verifier/internal/status"
	"ticket-verifier/models"
)

// Phase is the single source of truth for what a console shows.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseResolving  Phase = "resolving"
	PhasePresenting Phase = "presenting"
	PhaseVerifying  Phase = "verifying"
	PhaseError      Phase = "error"
)

// Busy reports whether a backend call is outstanding in this phase.
func (p Phase) Busy() bool {
	return p == PhaseResolving || p == PhaseVerifying
}

// Outcome qualifies a terminal phase.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeValid       Outcome = "valid"        // looked up, unused, awaiting confirmation
	OutcomeVerified    Outcome = "verified"     // marked used by this console
	OutcomeAlreadyUsed Outcome = "already_used" // used before or raced by another gate
	OutcomeError       Outcome = "error"
)

// State is an immutable snapshot of a session.
type State struct {
	SessionID  string               `json:"session_id"`
	Phase      Phase                `json:"phase"`
	Record     *models.TicketRecord `json:"record"`
	Outcome    Outcome              `json:"outcome,omitempty"`
	ErrorKind  status.Kind          `json:"error_kind,omitempty"`
	Message    string               `json:"message"`
	CanConfirm bool                 `json:"can_confirm"`
}

// Result is reported to observers for every terminal outcome.
type Result struct {
	SessionID string
	Operator  string
	TicketID  string
	Outcome   Outcome
	ErrorKind status.Kind
	Record    *models.TicketRecord
	At        time.Time
}

const (
	msgIdle      = "Ready. Start scanning or enter a ticket ID."
	msgScanning  = "Scanning. Hold the ticket code up to the camera."
	msgResolving = "Looking up ticket..."
	msgValid     = "Valid ticket. Confirm to admit."
	msgVerifying = "Verifying ticket..."
	msgVerified  = "Ticket verified. Entry granted."
	msgRaced     = "Already used: this ticket was just verified at another gate."
)

func alreadyUsedMessage(r *models.TicketRecord) string {
	msg := "Already used."
	if r == nil {
		return msg
	}
	if r.UsedAt != nil {
		msg += fmt.Sprintf(" Verified %s", r.UsedAt.Local().Format("Jan 2 15:04"))
		if r.VerifiedBy != "" {
			msg += " by " + r.VerifiedBy
		}
		msg += "."
	} else if r.VerifiedBy != "" {
		msg += " Verified by " + r.VerifiedBy + "."
	}
	return msg
}

func errorMessage(kind status.Kind) string {
	switch kind {
	case status.KindNotFound:
		return "Ticket not found. Rescan or enter the ID manually."
	case status.KindUnauthorized:
		return "Not authorized to verify this ticket. Sign in again with an account for this event."
	case status.KindCameraUnavailable:
		return "Camera unavailable. Enter the ticket ID manually."
	default:
		return "Could not reach the ticket service. Try again."
	}
}
