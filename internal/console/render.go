package console

import (
	"fmt"
	"strings"

	"ticket-verifier/internal/verification"
)

// Render formats a session state for a terminal.
func Render(st verification.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", st.Phase, st.Message)

	if r := st.Record; r != nil {
		fmt.Fprintf(&b, "\n  Ticket    %s", r.TicketID)
		buyer := r.Buyer.Name
		if r.Buyer.Email != "" {
			buyer = strings.TrimSpace(buyer + " <" + r.Buyer.Email + ">")
		}
		if buyer != "" {
			fmt.Fprintf(&b, "\n  Buyer     %s", buyer)
		}
		event := r.Event.Title
		if !r.Event.Date.IsZero() {
			event += ", " + r.Event.Date.Local().Format("Mon Jan 2 2006 15:04")
		}
		fmt.Fprintf(&b, "\n  Event     %s", event)

		tier := r.Tier.Name
		if r.Tier.Category != "" {
			tier += " (" + r.Tier.Category + ")"
		}
		if !r.Amount.IsZero() {
			tier += fmt.Sprintf(", paid %s %s", r.Amount.StringFixed(2), r.Currency)
		}
		fmt.Fprintf(&b, "\n  Tier      %s", tier)
		fmt.Fprintf(&b, "\n  Quantity  %d", r.Quantity)
		if r.PurchaseReference != "" {
			fmt.Fprintf(&b, "\n  Order     %s", r.PurchaseReference)
		}

		used := "not used"
		if r.IsUsed() {
			used = "USED"
			if r.UsedAt != nil {
				used += " at " + r.UsedAt.Local().Format("15:04:05 Jan 2")
			}
			if r.VerifiedBy != "" {
				used += " by " + r.VerifiedBy
			}
		}
		fmt.Fprintf(&b, "\n  Status    %s", used)
	}

	if st.CanConfirm {
		b.WriteString("\n  Type 'confirm' to admit or 'reset' to skip.")
	}
	return b.String()
}
