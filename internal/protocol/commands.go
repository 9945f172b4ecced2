// Package protocol defines the line-oriented command set spoken on the
// control channel and the codec that maps lines to typed payloads.
//
// A line is a command keyword optionally followed by a single space and a
// JSON object. Lines are terminated by a newline.
package protocol

// Command is a protocol keyword.
type Command string

// Session
const (
	CmdReady     Command = "READY"
	CmdEnter     Command = "ENTER"
	CmdEnterResp Command = "ENTER_RESP"
	CmdJoined    Command = "JOINED"
	CmdLeft      Command = "LEFT"
	CmdBye       Command = "BYE"
	CmdByeResp   Command = "BYE_RESP"
	CmdHangup    Command = "HANGUP"
)

// Heartbeat
const (
	CmdPing      Command = "PING"
	CmdPong      Command = "PONG"
	CmdPongError Command = "PONG_ERROR"
)

// Chat
const (
	CmdBroadcastReq  Command = "BROADCAST_REQ"
	CmdBroadcastResp Command = "BROADCAST_RESP"
	CmdBroadcast     Command = "BROADCAST"
	CmdPrivateReq    Command = "PRIVATE_REQ"
	CmdPrivateResp   Command = "PRIVATE_RESP"
	CmdPrivate       Command = "PRIVATE"
	CmdClientsReq    Command = "CLIENTS_REQ"
	CmdClientsResp   Command = "CLIENTS_RESP"
	CmdClients       Command = "CLIENTS"
)

// Rock, paper, scissors
const (
	CmdRPSStartReq   Command = "RPS_START_REQ"
	CmdRPSStartResp  Command = "RPS_START_RESP"
	CmdRPSStart      Command = "RPS_START"
	CmdRPSChoiceReq  Command = "RPS_CHOICE_REQ"
	CmdRPSChoiceResp Command = "RPS_CHOICE_RESP"
	CmdRPSEnd        Command = "RPS_END"
	CmdRPSError      Command = "RPS_ERROR"
)

// File transfer
const (
	CmdTransferReq        Command = "TRANSFER_REQ"
	CmdTransferResp       Command = "TRANSFER_RESP"
	CmdTransferAccept     Command = "TRANSFER_ACCEPT"
	CmdTransferAcceptResp Command = "TRANSFER_ACCEPT_RESP"
	CmdTransferAccepted   Command = "TRANSFER_ACCEPTED"
	CmdTransferReject     Command = "TRANSFER_REJECT"
	CmdTransferRejectResp Command = "TRANSFER_REJECT_RESP"
	CmdTransferRejected   Command = "TRANSFER_REJECTED"
	CmdTransferChecksum   Command = "TRANSFER_CHECKSUM"
	CmdTransferSuccess    Command = "TRANSFER_SUCCESS"
	CmdTransferFailed     Command = "TRANSFER_FAILED"
)

// Decode failures reported back to the peer.
const (
	CmdUnknownCommand Command = "UNKNOWN_COMMAND"
	CmdParseError     Command = "PARSE_ERROR"
)

func (c Command) String() string { return string(c) }
