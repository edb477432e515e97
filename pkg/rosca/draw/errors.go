package draw

import (
	"net/http"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
)

// Error is an expected draw failure with a machine-readable code. Nothing is
// written to the database when one is returned.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrGroupNotFound = &Error{Code: api.CodeNotFound, Message: "Group not found", Status: http.StatusNotFound}
	ErrNoOpenCycle   = &Error{Code: api.CodeNoOpenCycle, Message: "No open cycle found for this group", Status: http.StatusBadRequest}
	ErrAlreadyDrawn  = &Error{Code: api.CodeConflict, Message: "Draw already performed for this cycle", Status: http.StatusConflict}

	ErrIncompleteContributions = &Error{
		Code:    api.CodeIncompleteContributions,
		Message: "Not all members have confirmed contributions",
		Status:  http.StatusBadRequest,
	}
	ErrNoEligibleMembers = &Error{
		Code:    api.CodeNoEligibleMembers,
		Message: "All members have already won in this group",
		Status:  http.StatusBadRequest,
	}
	ErrAlreadyWon = &Error{
		Code:    api.CodeConflict,
		Message: "Selected member has already won in this group",
		Status:  http.StatusConflict,
	}
)
