package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
)

var (
	wednesday = leave.MustParseDate("2025-03-05")
	sunday    = leave.MustParseDate("2025-03-09")
	monday    = leave.MustParseDate("2025-03-10")
)

func reserved(id string, d leave.Date, typ leave.LeaveType, session leave.Session) leave.Reservation {
	return leave.Reservation{
		ID:      id,
		UserID:  "U001",
		Date:    d,
		Type:    typ,
		Session: session,
		Amount:  typ.Amount(),
		Status:  leave.StatusReserved,
	}
}

func TestValidate_SundayRejected(t *testing.T) {
	v := leave.NewRequestValidator(time.Sunday)

	res := v.Validate(leave.LeaveRequest{UserID: "U001", Date: sunday, Type: leave.LeaveFull}, leave.Days(10), nil)

	assert.False(t, res.Valid)
	assert.Equal(t, leave.CodeSundayNotAllowed, res.Code)
}

func TestValidate_ZeroValueForbidsSunday(t *testing.T) {
	var v leave.RequestValidator

	res := v.Validate(leave.LeaveRequest{UserID: "U001", Date: sunday, Type: leave.LeaveFull}, leave.Days(10), nil)

	assert.Equal(t, leave.CodeSundayNotAllowed, res.Code)
}

func TestValidate_ExistingFullBlocksHalf(t *testing.T) {
	v := leave.NewRequestValidator(time.Sunday)
	existing := []leave.Reservation{reserved("r1", wednesday, leave.LeaveFull, leave.SessionNone)}

	res := v.Validate(leave.LeaveRequest{UserID: "U001", Date: wednesday, Type: leave.LeaveHalf, Session: leave.SessionAM}, leave.Days(10), existing)

	assert.False(t, res.Valid)
	assert.Equal(t, leave.CodeDuplicateReservation, res.Code)
}

func TestValidate_InsufficientForHalfDay(t *testing.T) {
	v := leave.NewRequestValidator(time.Sunday)

	res := v.Validate(leave.LeaveRequest{UserID: "U001", Date: monday, Type: leave.LeaveHalf, Session: leave.SessionPM}, leave.Days(0.4), nil)

	assert.False(t, res.Valid)
	assert.Equal(t, leave.CodeInsufficientLeave, res.Code)
}

func TestValidate_Conflicts(t *testing.T) {
	v := leave.NewRequestValidator(time.Sunday)
	halfAM := []leave.Reservation{reserved("r1", wednesday, leave.LeaveHalf, leave.SessionAM)}

	tests := []struct {
		name     string
		req      leave.LeaveRequest
		existing []leave.Reservation
		want     leave.ErrorKind
	}{
		{
			name:     "half blocks full",
			req:      leave.LeaveRequest{Date: wednesday, Type: leave.LeaveFull},
			existing: halfAM,
			want:     leave.CodeDuplicateReservation,
		},
		{
			name:     "same session",
			req:      leave.LeaveRequest{Date: wednesday, Type: leave.LeaveHalf, Session: leave.SessionAM},
			existing: halfAM,
			want:     leave.CodeInvalidHalfDay,
		},
		{
			name:     "other session allowed",
			req:      leave.LeaveRequest{Date: wednesday, Type: leave.LeaveHalf, Session: leave.SessionPM},
			existing: halfAM,
		},
		{
			name:     "other date allowed",
			req:      leave.LeaveRequest{Date: monday, Type: leave.LeaveFull},
			existing: halfAM,
		},
		{
			name: "cancelled entries ignored",
			req:  leave.LeaveRequest{Date: wednesday, Type: leave.LeaveFull},
			existing: []leave.Reservation{{
				ID: "r2", Date: wednesday, Type: leave.LeaveFull, Amount: leave.One, Status: leave.StatusCancelled,
			}},
		},
		{
			name:     "half without session",
			req:      leave.LeaveRequest{Date: monday, Type: leave.LeaveHalf},
			existing: nil,
			want:     leave.CodeInvalidHalfDay,
		},
		{
			name: "unknown type",
			req:  leave.LeaveRequest{Date: monday, Type: "QUARTER"},
			want: leave.CodeInvalidLeaveType,
		},
		{
			name: "missing date",
			req:  leave.LeaveRequest{Type: leave.LeaveFull},
			want: leave.CodeInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.req, leave.Days(10), tt.existing)
			if tt.want == "" {
				assert.True(t, res.Valid, "unexpected rejection: %s", res.Message)
				assert.NoError(t, res.Err())
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, res.Code)
		})
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	v := leave.NewRequestValidator(time.Sunday)
	existing := []leave.Reservation{reserved("r1", sunday, leave.LeaveFull, leave.SessionNone)}

	// Sunday wins over insufficient balance and duplicates.
	res := v.Validate(leave.LeaveRequest{Date: sunday, Type: leave.LeaveFull}, leave.Days(0), existing)
	assert.Equal(t, leave.CodeSundayNotAllowed, res.Code)

	// Insufficient wins over duplicates.
	existing = []leave.Reservation{reserved("r2", monday, leave.LeaveFull, leave.SessionNone)}
	res = v.Validate(leave.LeaveRequest{Date: monday, Type: leave.LeaveFull}, leave.Days(0.5), existing)
	assert.Equal(t, leave.CodeInsufficientLeave, res.Code)

	// Duplicate wins over missing session.
	res = v.Validate(leave.LeaveRequest{Date: monday, Type: leave.LeaveHalf}, leave.Days(5), existing)
	assert.Equal(t, leave.CodeDuplicateReservation, res.Code)
}

func TestValidationResult_Err(t *testing.T) {
	res := leave.ValidationResult{Code: leave.CodeSundayNotAllowed, Message: "no"}

	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrValidation)

	var ve *leave.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, leave.CodeSundayNotAllowed, ve.Code)
	assert.Equal(t, leave.CodeSundayNotAllowed, leave.KindOf(err))
}

func TestValidate_ConfiguredNoLeaveDay(t *testing.T) {
	v := leave.NewRequestValidator(time.Saturday)

	res := v.Validate(leave.LeaveRequest{Date: sunday, Type: leave.LeaveFull}, leave.Days(10), nil)
	assert.True(t, res.Valid)

	res = v.Validate(leave.LeaveRequest{Date: sunday.AddDays(-1), Type: leave.LeaveFull}, leave.Days(10), nil)
	assert.Equal(t, leave.CodeSundayNotAllowed, res.Code)
}
