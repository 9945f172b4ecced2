package protocol

// Message is a decoded payload bound to exactly one command.
type Message interface {
	Command() Command
}

// Response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Status is the common status/code pair embedded in response payloads.
type Status struct {
	Status string `json:"status"`
	Code   Code   `json:"code,omitempty"`
}

// OK returns a successful status.
func OK() Status { return Status{Status: StatusOK} }

// Fail returns an error status with the given code.
func Fail(code Code) Status { return Status{Status: StatusError, Code: code} }

// IsOK reports whether the status is successful.
func (s Status) IsOK() bool { return s.Status == StatusOK }

type Ready struct {
	Version string `json:"version"`
}

type Enter struct {
	Username string `json:"username"`
}

type EnterResp struct{ Status }

type Joined struct {
	Username string `json:"username"`
}

type Left struct {
	Username string `json:"username"`
}

type BroadcastReq struct {
	Message string `json:"message"`
}

type BroadcastResp struct{ Status }

type Broadcast struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type Ping struct{}

type Pong struct{}

type PongError struct {
	Code Code `json:"code"`
}

type Bye struct{}

type ByeResp struct {
	Status string `json:"status"`
}

type Hangup struct {
	Reason Code `json:"reason"`
}

type ClientsReq struct{}

type ClientsResp struct{ Status }

type Clients struct {
	Clients []string `json:"clients"`
}

type PrivateReq struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type PrivateResp struct{ Status }

type Private struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type RPSStartReq struct {
	Username string `json:"username"`
}

// RPSStartResp lists the current players when the request failed because a game is active.
type RPSStartResp struct {
	Status
	Users []string `json:"users,omitempty"`
}

type RPSStart struct {
	Username string `json:"username"`
}

type RPSChoiceReq struct {
	Choice string `json:"choice"`
}

type RPSChoiceResp struct{ Status }

// RPSEnd omits Winner on a draw.
type RPSEnd struct {
	Winner         string `json:"winner,omitempty"`
	OpponentChoice string `json:"opponentChoice"`
}

type RPSError struct {
	Code Code `json:"code"`
}

// TransferReq is sent by the sender without SessionID and forwarded to the
// receiver with Username replaced by the sender and SessionID set.
type TransferReq struct {
	Username  string  `json:"username"`
	Filename  string  `json:"filename"`
	Filesize  float64 `json:"filesize"`
	Checksum  string  `json:"checksum"`
	SessionID string  `json:"sessionId,omitempty"`
}

type TransferResp struct {
	SessionID string `json:"sessionId,omitempty"`
	Status
}

type TransferAccept struct {
	ID string `json:"id"`
}

type TransferAcceptResp struct{ Status }

// TransferAccepted carries the data-channel handshake token (session token plus role byte).
type TransferAccepted struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
	UUID     string `json:"uuid"`
}

type TransferReject struct {
	ID string `json:"id"`
}

type TransferRejectResp struct{ Status }

type TransferRejected struct {
	Username string `json:"username"`
}

type TransferChecksum struct {
	SessionUUID string `json:"sessionUuid"`
	Checksum    string `json:"checksum"`
}

type TransferSuccess struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type TransferFailed struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Code     Code   `json:"code"`
}

type UnknownCommandMsg struct{}

type ParseErrorMsg struct{}

func (Ready) Command() Command              { return CmdReady }
func (Enter) Command() Command              { return CmdEnter }
func (EnterResp) Command() Command          { return CmdEnterResp }
func (Joined) Command() Command             { return CmdJoined }
func (Left) Command() Command               { return CmdLeft }
func (BroadcastReq) Command() Command       { return CmdBroadcastReq }
func (BroadcastResp) Command() Command      { return CmdBroadcastResp }
func (Broadcast) Command() Command          { return CmdBroadcast }
func (Ping) Command() Command               { return CmdPing }
func (Pong) Command() Command               { return CmdPong }
func (PongError) Command() Command          { return CmdPongError }
func (Bye) Command() Command                { return CmdBye }
func (ByeResp) Command() Command            { return CmdByeResp }
func (Hangup) Command() Command             { return CmdHangup }
func (ClientsReq) Command() Command         { return CmdClientsReq }
func (ClientsResp) Command() Command        { return CmdClientsResp }
func (Clients) Command() Command            { return CmdClients }
func (PrivateReq) Command() Command         { return CmdPrivateReq }
func (PrivateResp) Command() Command        { return CmdPrivateResp }
func (Private) Command() Command            { return CmdPrivate }
func (RPSStartReq) Command() Command        { return CmdRPSStartReq }
func (RPSStartResp) Command() Command       { return CmdRPSStartResp }
func (RPSStart) Command() Command           { return CmdRPSStart }
func (RPSChoiceReq) Command() Command       { return CmdRPSChoiceReq }
func (RPSChoiceResp) Command() Command      { return CmdRPSChoiceResp }
func (RPSEnd) Command() Command             { return CmdRPSEnd }
func (RPSError) Command() Command           { return CmdRPSError }
func (TransferReq) Command() Command        { return CmdTransferReq }
func (TransferResp) Command() Command       { return CmdTransferResp }
func (TransferAccept) Command() Command     { return CmdTransferAccept }
func (TransferAcceptResp) Command() Command { return CmdTransferAcceptResp }
func (TransferAccepted) Command() Command   { return CmdTransferAccepted }
func (TransferReject) Command() Command     { return CmdTransferReject }
func (TransferRejectResp) Command() Command { return CmdTransferRejectResp }
func (TransferRejected) Command() Command   { return CmdTransferRejected }
func (TransferChecksum) Command() Command   { return CmdTransferChecksum }
func (TransferSuccess) Command() Command    { return CmdTransferSuccess }
func (TransferFailed) Command() Command     { return CmdTransferFailed }
func (UnknownCommandMsg) Command() Command  { return CmdUnknownCommand }
func (ParseErrorMsg) Command() Command      { return CmdParseError }
