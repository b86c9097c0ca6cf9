// Package protocol implements the pipe-separated text protocol spoken over the
// chat WebSocket: parsing inbound frames into typed messages and building the
// server's outbound payloads.
package protocol

import "time"

// Command is the tag carried in field 0 of every frame.
type Command string

const (
	CommandLogin         Command = "log"
	CommandLoginResponse Command = "rlo"
	CommandChat          Command = "msg"
	CommandUserList      Command = "ele"
)

const (
	// Separator splits the fields of a frame.
	Separator = "|"
	// UserSeparator joins usernames inside a user list frame.
	UserSeparator = ","
)

// Message is one parsed inbound frame. The set of implementations is closed:
// LoginRequest, ChatMessage and UserListNotice.
type Message interface {
	Command() Command
	sealed()
}

// LoginRequest is a client's "log|username|secret" frame.
type LoginRequest struct {
	Username string
	Secret   string
}

// ChatMessage is a "msg|username|timestamp|text" frame. Raw keeps the frame
// exactly as received so it can be relayed verbatim.
type ChatMessage struct {
	Username  string
	Timestamp time.Time
	Text      string
	Raw       string
}

// UserListNotice is the server's "ele|a,b,c" roster frame.
type UserListNotice struct {
	Usernames []string
}

func (LoginRequest) Command() Command   { return CommandLogin }
func (ChatMessage) Command() Command    { return CommandChat }
func (UserListNotice) Command() Command { return CommandUserList }

func (LoginRequest) sealed()   {}
func (ChatMessage) sealed()    {}
func (UserListNotice) sealed() {}
