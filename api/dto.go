/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies and the response envelope. Domain types
  in package leave already carry JSON tags and are returned as-is inside
  the envelope's data field.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response payloads that are not plain domain types

ENVELOPE:
  Every response is {success, error?, message?, data?}. error is a stable
  machine-readable kind (e.g. SUNDAY_NOT_ALLOWED, NOT_FOUND).

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/errors.go: Error kinds
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/leave"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool            `json:"success"`
	Error   leave.ErrorKind `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    any             `json:"data,omitempty"`
}

// KindBadRequest marks a body that could not be decoded.
const KindBadRequest leave.ErrorKind = "BAD_REQUEST"

// CreateUserRequest is the request to create or replace a user.
type CreateUserRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinDate string `json:"join_date"`
	GroupID  string `json:"group_id"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// LeaveRequestBody is the body of the validate and leave endpoints.
// The user comes from the URL.
type LeaveRequestBody struct {
	Date      string `json:"date"`
	Type      string `json:"type"`
	Session   string `json:"session"`
	Immediate bool   `json:"immediate"`
}

// IssueGrantRequest issues a grant for Year. Without Total the amount is
// computed from the user's years of service.
type IssueGrantRequest struct {
	Year  int              `json:"year"`
	Total *decimal.Decimal `json:"total,omitempty"`
}

// SetGrantUsedRequest is the admin correction of a grant's used days.
type SetGrantUsedRequest struct {
	Used decimal.Decimal `json:"used"`
}

// IssueGrantResponse reports the grant on record after issuance.
type IssueGrantResponse struct {
	Grant   leave.Grant `json:"grant"`
	Created bool        `json:"created"`
}

// ApproveResponse links the approved reservation to its usage record.
type ApproveResponse struct {
	ReservationID string `json:"reservation_id"`
	UsageID       string `json:"usage_id"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
