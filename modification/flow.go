/*
flow.go - Multi-step modification workflow state machine

PURPOSE:
  Models the consumer-facing modification flow as an explicit finite
  state machine:

      policy --> form --> preview --> confirm

  Each transition carries the data produced by the step it leaves and
  is guarded against that data, so "can the user proceed" lives here
  instead of ad hoc booleans scattered through a consumer.
*/
package modification

import (
	"github.com/warp/rental-engine/rental"
)

type Step string

const (
	StepPolicy  Step = "policy"
	StepForm    Step = "form"
	StepPreview Step = "preview"
	StepConfirm Step = "confirm"
)

// Flow tracks one consumer's progress through the modification steps.
// Not safe for concurrent use; a flow belongs to a single session.
type Flow struct {
	bookingID rental.BookingID
	step      Step
	policy    *Policy
	request   *Request
	preview   *Preview
}

func NewFlow(bookingID rental.BookingID) *Flow {
	return &Flow{bookingID: bookingID, step: StepPolicy}
}

func (f *Flow) Step() Step        { return f.step }
func (f *Flow) Policy() *Policy   { return f.policy }
func (f *Flow) Request() *Request { return f.request }
func (f *Flow) Preview() *Preview { return f.preview }

// LoadPolicy moves policy -> form. Guard: the policy must permit at
// least one change category, otherwise there is no form to fill in.
func (f *Flow) LoadPolicy(p *Policy) error {
	if f.step != StepPolicy {
		return f.transitionError(StepForm)
	}
	if p == nil || !p.AllowsAny() {
		return &rental.PolicyViolationError{
			Category: "any",
			Message:  "no change category is currently permitted",
		}
	}
	f.policy = p
	f.step = StepForm
	return nil
}

// SubmitForm moves form -> preview. Guard: the request must be valid
// and belong to this flow's booking.
func (f *Flow) SubmitForm(req Request) error {
	if f.step != StepForm {
		return f.transitionError(StepPreview)
	}
	if req.BookingID != f.bookingID {
		return &rental.ValidationError{Field: "booking_id", Message: "request is for a different booking"}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	f.request = &req
	f.step = StepPreview
	return nil
}

// AcceptPreview moves preview -> confirm. Guard: the preview must have
// been computed for this flow's booking.
func (f *Flow) AcceptPreview(p *Preview) error {
	if f.step != StepPreview {
		return f.transitionError(StepConfirm)
	}
	if p == nil || p.BookingID != f.bookingID {
		return &rental.ValidationError{Field: "preview", Message: "preview does not match this flow"}
	}
	f.preview = p
	f.step = StepConfirm
	return nil
}

// Restart discards everything after the policy step; used when a
// preview goes stale (ConcurrencyConflict) and the user must re-confirm.
func (f *Flow) Restart() {
	f.step = StepPolicy
	f.policy = nil
	f.request = nil
	f.preview = nil
}

func (f *Flow) transitionError(to Step) error {
	return &rental.StateTransitionError{
		From:    string(f.step),
		To:      string(to),
		Message: "flow steps must be completed in order",
	}
}
