package protocol

import "strconv"

// Status is the outcome code carried on a response status line.
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusAccessDenied
	StatusNoEnt
	StatusNotDir
	StatusNotAbsolute
	StatusInternal
)

var statusMessages = [...]string{
	StatusOK:           "OK",
	StatusBadRequest:   "Bad request",
	StatusAccessDenied: "Access denied",
	StatusNoEnt:        "Directory doesn't exists",
	StatusNotDir:       "Path is not directory",
	StatusNotAbsolute:  "Path must be absolute",
	StatusInternal:     "Internal server error",
}

var statusNames = [...]string{
	StatusOK:           "OK",
	StatusBadRequest:   "BAD_REQUEST",
	StatusAccessDenied: "ACCESS_DENIED",
	StatusNoEnt:        "NO_ENT",
	StatusNotDir:       "NOT_DIR",
	StatusNotAbsolute:  "NOT_ABSOLUTE",
	StatusInternal:     "INTERNAL",
}

// Known reports whether s is one of the defined codes.
func (s Status) Known() bool {
	return s >= StatusOK && int(s) < len(statusMessages)
}

// Message returns the human readable text sent on the status line.
func (s Status) Message() string {
	if !s.Known() {
		return "Unknown status " + strconv.Itoa(int(s))
	}
	return statusMessages[s]
}

// String returns the symbolic name of s.
func (s Status) String() string {
	if !s.Known() {
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}
