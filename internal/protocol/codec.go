package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type decodeFunc func(dec *json.Decoder) (Message, error)

func schema[T Message]() decodeFunc {
	return func(dec *json.Decoder) (Message, error) {
		var m T
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

var schemas = map[Command]decodeFunc{
	CmdReady:              schema[Ready](),
	CmdEnter:              schema[Enter](),
	CmdEnterResp:          schema[EnterResp](),
	CmdJoined:             schema[Joined](),
	CmdLeft:               schema[Left](),
	CmdBye:                schema[Bye](),
	CmdByeResp:            schema[ByeResp](),
	CmdHangup:             schema[Hangup](),
	CmdPing:               schema[Ping](),
	CmdPong:               schema[Pong](),
	CmdPongError:          schema[PongError](),
	CmdBroadcastReq:       schema[BroadcastReq](),
	CmdBroadcastResp:      schema[BroadcastResp](),
	CmdBroadcast:          schema[Broadcast](),
	CmdPrivateReq:         schema[PrivateReq](),
	CmdPrivateResp:        schema[PrivateResp](),
	CmdPrivate:            schema[Private](),
	CmdClientsReq:         schema[ClientsReq](),
	CmdClientsResp:        schema[ClientsResp](),
	CmdClients:            schema[Clients](),
	CmdRPSStartReq:        schema[RPSStartReq](),
	CmdRPSStartResp:       schema[RPSStartResp](),
	CmdRPSStart:           schema[RPSStart](),
	CmdRPSChoiceReq:       schema[RPSChoiceReq](),
	CmdRPSChoiceResp:      schema[RPSChoiceResp](),
	CmdRPSEnd:             schema[RPSEnd](),
	CmdRPSError:           schema[RPSError](),
	CmdTransferReq:        schema[TransferReq](),
	CmdTransferResp:       schema[TransferResp](),
	CmdTransferAccept:     schema[TransferAccept](),
	CmdTransferAcceptResp: schema[TransferAcceptResp](),
	CmdTransferAccepted:   schema[TransferAccepted](),
	CmdTransferReject:     schema[TransferReject](),
	CmdTransferRejectResp: schema[TransferRejectResp](),
	CmdTransferRejected:   schema[TransferRejected](),
	CmdTransferChecksum:   schema[TransferChecksum](),
	CmdTransferSuccess:    schema[TransferSuccess](),
	CmdTransferFailed:     schema[TransferFailed](),
	CmdUnknownCommand:     schema[UnknownCommandMsg](),
	CmdParseError:         schema[ParseErrorMsg](),
}

// Known reports whether cmd belongs to the command set.
func Known(cmd Command) bool {
	_, ok := schemas[cmd]
	return ok
}

// Decode parses one line into its typed payload.
//
// Precondition: line has had its trailing newline removed; surrounding
// whitespace is ignored.
// Postcondition: Returns the payload bound to the line's command, or an error
// wrapping ErrUnknownCommand or ErrMalformedPayload.
func Decode(line string) (Message, error) {
	line = strings.TrimSpace(line)
	keyword, payload, _ := strings.Cut(line, " ")
	cmd := Command(keyword)

	decode, ok := schemas[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		payload = "{}"
	}
	if payload == "null" {
		return nil, fmt.Errorf("%w: %s: null payload", ErrMalformedPayload, cmd)
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	msg, err := decode(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, cmd, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: trailing data", ErrMalformedPayload, cmd)
	}
	return msg, nil
}

// Encode renders msg as a single line without the trailing newline.
// Payloads with no fields are rendered as the bare command keyword.
func Encode(msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", msg.Command(), err)
	}
	if bytes.Equal(body, []byte("{}")) {
		return string(msg.Command()), nil
	}
	return string(msg.Command()) + " " + string(body), nil
}
