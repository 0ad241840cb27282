package modification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
)

func allowingPolicy(id rental.BookingID) *Policy {
	return &Policy{
		BookingID:          id,
		IsFree:             true,
		AllowDateChange:    true,
		AllowVehicleChange: true,
	}
}

func TestFlowHappyPath(t *testing.T) {
	// GIVEN: a fresh flow
	f := NewFlow("booking-500")
	assert.Equal(t, StepPolicy, f.Step())

	// WHEN: walking policy -> form -> preview -> confirm
	require.NoError(t, f.LoadPolicy(allowingPolicy("booking-500")))
	assert.Equal(t, StepForm, f.Step())

	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)
	require.NoError(t, f.SubmitForm(req))
	assert.Equal(t, StepPreview, f.Step())

	require.NoError(t, f.AcceptPreview(&Preview{BookingID: "booking-500"}))
	assert.Equal(t, StepConfirm, f.Step())
	assert.NotNil(t, f.Preview())
}

func TestFlowStepsMustBeOrdered(t *testing.T) {
	// GIVEN: a flow still on the policy step
	f := NewFlow("booking-500")

	// WHEN: skipping ahead
	err := f.SubmitForm(baseRequest())

	// THEN: refused as a transition error
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)

	err = f.AcceptPreview(&Preview{BookingID: "booking-500"})
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)
}

func TestFlowRefusesFullyLockedPolicy(t *testing.T) {
	// GIVEN: a policy that permits no change category
	f := NewFlow("booking-500")

	// WHEN: loading it
	err := f.LoadPolicy(&Policy{BookingID: "booking-500"})

	// THEN: the flow refuses to advance
	assert.ErrorIs(t, err, rental.ErrPolicyViolation)
	assert.Equal(t, StepPolicy, f.Step())
}

func TestFlowGuardsBookingIdentity(t *testing.T) {
	// GIVEN: a flow for booking-500 past the policy step
	f := NewFlow("booking-500")
	require.NoError(t, f.LoadPolicy(allowingPolicy("booking-500")))

	// WHEN: submitting a form for a different booking
	req := baseRequest()
	req.BookingID = "booking-999"
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)
	err := f.SubmitForm(req)

	// THEN: refused
	assert.ErrorIs(t, err, rental.ErrValidation)
}

func TestFlowRestartAfterStalePreview(t *testing.T) {
	// GIVEN: a flow that reached confirm
	f := NewFlow("booking-500")
	require.NoError(t, f.LoadPolicy(allowingPolicy("booking-500")))
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)
	require.NoError(t, f.SubmitForm(req))
	require.NoError(t, f.AcceptPreview(&Preview{BookingID: "booking-500"}))

	// WHEN: the commit hits a concurrency conflict and the flow restarts
	f.Restart()

	// THEN: everything resets to the policy step
	assert.Equal(t, StepPolicy, f.Step())
	assert.Nil(t, f.Policy())
	assert.Nil(t, f.Request())
	assert.Nil(t, f.Preview())
}
