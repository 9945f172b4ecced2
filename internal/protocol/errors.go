package protocol

import (
	"errors"
	"fmt"
)

// Code is a numeric error code reported to peers.
type Code int

// Error codes sent in status responses and failure notifications.
const (
	CodeUsernameTaken        Code = 5000
	CodeInvalidUsername      Code = 5001
	CodeAlreadyLoggedIn      Code = 5002
	CodeNotLoggedIn          Code = 6000
	CodeNoPongReceived       Code = 7000
	CodePongWithoutPing      Code = 8000
	CodeReceiverNotFound     Code = 9001
	CodeInvalidReceiver      Code = 9002
	CodeGameAlreadyActive    Code = 10002
	CodeNoGameActive         Code = 10003
	CodeInvalidChoice        Code = 10005
	CodeChoiceAlreadyMade    Code = 10007
	CodeResponseTimeout      Code = 10008
	CodeUnexpectedDisconnect Code = 10009
	CodeCommandNotExpected   Code = 12001
	CodeChecksumMismatch     Code = 12002
)

var explanations = map[Code]string{
	CodeUsernameTaken:        "user with this name already exists",
	CodeInvalidUsername:      "invalid username format",
	CodeAlreadyLoggedIn:      "already logged in",
	CodeNotLoggedIn:          "not logged in",
	CodeNoPongReceived:       "no pong received",
	CodePongWithoutPing:      "pong without ping",
	CodeReceiverNotFound:     "receiver not found",
	CodeInvalidReceiver:      "cannot interact with yourself",
	CodeGameAlreadyActive:    "two users already started a game",
	CodeNoGameActive:         "no game is active",
	CodeInvalidChoice:        "invalid rock, paper, scissors choice",
	CodeChoiceAlreadyMade:    "choice already made",
	CodeResponseTimeout:      "response timeout",
	CodeUnexpectedDisconnect: "user unexpectedly disconnected",
	CodeCommandNotExpected:   "command not expected",
	CodeChecksumMismatch:     "checksums not matching",
}

// Explanation returns a short human-readable description of the code.
func (c Code) Explanation() string {
	if s, ok := explanations[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Error is a domain error that is reported to the requesting peer as a code.
type Error struct {
	Code   Code
	reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.reason, int(e.Code))
}

// ProtocolCode returns the wire code for the error.
func (e *Error) ProtocolCode() Code { return e.Code }

// Domain errors. Several distinct conditions share a wire code; callers
// distinguish them with errors.Is.
var (
	ErrUsernameTaken         = &Error{Code: CodeUsernameTaken, reason: "username taken"}
	ErrInvalidUsername       = &Error{Code: CodeInvalidUsername, reason: "invalid username format"}
	ErrAlreadyLoggedIn       = &Error{Code: CodeAlreadyLoggedIn, reason: "already logged in"}
	ErrNotLoggedIn           = &Error{Code: CodeNotLoggedIn, reason: "not logged in"}
	ErrReceiverNotFound      = &Error{Code: CodeReceiverNotFound, reason: "receiver not found"}
	ErrOpponentNotFound      = &Error{Code: CodeReceiverNotFound, reason: "opponent not found"}
	ErrInvalidReceiver       = &Error{Code: CodeInvalidReceiver, reason: "receiver is self"}
	ErrInvalidOpponent       = &Error{Code: CodeInvalidReceiver, reason: "opponent is self"}
	ErrGameAlreadyActive     = &Error{Code: CodeGameAlreadyActive, reason: "game already active"}
	ErrNoGameActive          = &Error{Code: CodeNoGameActive, reason: "no game active"}
	ErrNotAParticipant       = &Error{Code: CodeCommandNotExpected, reason: "not a participant"}
	ErrInvalidChoice         = &Error{Code: CodeInvalidChoice, reason: "invalid choice"}
	ErrChoiceAlreadyMade     = &Error{Code: CodeChoiceAlreadyMade, reason: "choice already made"}
	ErrNoSuchPendingTransfer = &Error{Code: CodeCommandNotExpected, reason: "no such pending transfer"}
	ErrNotDesignatedReceiver = &Error{Code: CodeCommandNotExpected, reason: "not the designated receiver"}
)

// GameActiveError reports that a game is in progress and who is playing.
type GameActiveError struct {
	Players [2]string
}

func (e *GameActiveError) Error() string {
	return fmt.Sprintf("game already active between %s and %s", e.Players[0], e.Players[1])
}

// Is matches ErrGameAlreadyActive.
func (e *GameActiveError) Is(target error) bool { return target == ErrGameAlreadyActive }

// ProtocolCode returns CodeGameAlreadyActive.
func (e *GameActiveError) ProtocolCode() Code { return CodeGameAlreadyActive }

// CodeOf extracts the wire code from err.
//
// Postcondition: Returns (code, true) if err carries a protocol code, or (0, false).
func CodeOf(err error) (Code, bool) {
	var coded interface{ ProtocolCode() Code }
	if errors.As(err, &coded) {
		return coded.ProtocolCode(), true
	}
	return 0, false
}

// Decode failures. Wrapped errors carry detail and match with errors.Is.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMalformedPayload = errors.New("malformed payload")
)
