package coldcall

import (
	"fmt"
)

// Reasons a call can terminate with.
const (
	ReasonTimeWindowExceeded = "time window exceeded"
	ReasonDeclined           = "prospect declined"
	ReasonBusy               = "prospect was busy"
	ReasonNonDecisionMaker   = "spoke to non-decision maker"
	ReasonOffDomain          = "business not related to target domain"
)

// Suggested next actions paired with the reasons above.
const (
	NextFollowUpLater = "follow up later"
	NextNoFollowUp    = "no follow-up required"
	NextCallBack      = "call back at a better time"
	NextReachOwner    = "reach business owner directly"
	NextNoOpportunity = "no opportunity for these services"
)

// Disposition is the structured outcome produced once when a call ends.
type Disposition struct {
	Qualified  bool   `json:"qualified"`
	Reason     string `json:"reason"`
	NextAction string `json:"next_action"`
}

// NewDisposition builds the terminal report. Only unqualified outcomes are modeled.
func NewDisposition(reason, nextAction string) Disposition {
	return Disposition{
		Qualified:  false,
		Reason:     reason,
		NextAction: nextAction,
	}
}

// Text renders the report in the fixed shape shown to the operator.
func (d Disposition) Text() string {
	return fmt.Sprintf("No, not a potential customer\nReasons:\n- %s\nHow we could convert them:\n- %s",
		d.Reason, d.NextAction)
}
