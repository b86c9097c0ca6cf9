package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	loginSucceeded = "login succeeded"
	loginFailed    = "login failed"
)

var (
	// ErrInvalidFrame is wrapped by every error returned from Parse.
	ErrInvalidFrame = errors.New("invalid frame")

	ErrEmptyFrame     = errors.New("empty frame")
	ErrUnknownCommand = errors.New("unknown command")
	ErrFieldCount     = errors.New("wrong number of fields")
	ErrEmptyField     = errors.New("required field is empty")
	ErrBadTimestamp   = errors.New("timestamp is not ISO-8601")
)

var timestampLayouts = buildTimestampLayouts()

// buildTimestampLayouts lists the extended-format date-time shapes accepted
// in chat frames: a bare date, or date and time joined by 'T' or a space, with
// the time cut at hours, minutes or seconds (fractions are accepted
// implicitly) and an optional UTC offset. The basic format (20240101T100000)
// is not accepted.
func buildTimestampLayouts() []string {
	layouts := []string{"2006-01-02"}
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05", "15:04", "15"} {
			for _, zone := range []string{"", "Z07:00", "-0700"} {
				layouts = append(layouts, "2006-01-02"+sep+clock+zone)
			}
		}
	}
	return layouts
}

// Parse validates raw and converts it into a typed Message. It never mutates
// any state and always returns either a message or an error wrapping
// ErrInvalidFrame.
func Parse(raw string) (Message, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalid(ErrEmptyFrame)
	}

	parts := strings.Split(trimmed, Separator)

	switch Command(parts[0]) {
	case CommandLogin:
		return parseLogin(parts)
	case CommandChat:
		return parseChat(parts, raw)
	case CommandUserList:
		return parseUserList(parts)
	default:
		return nil, invalid(fmt.Errorf("%w %q", ErrUnknownCommand, parts[0]))
	}
}

func parseLogin(parts []string) (Message, error) {
	if len(parts) != 3 {
		return nil, invalid(fmt.Errorf("%w: login wants 3, got %d", ErrFieldCount, len(parts)))
	}
	username := strings.TrimSpace(parts[1])
	if username == "" {
		return nil, invalid(fmt.Errorf("%w: username", ErrEmptyField))
	}
	return LoginRequest{Username: username, Secret: parts[2]}, nil
}

func parseChat(parts []string, raw string) (Message, error) {
	if len(parts) < 4 {
		return nil, invalid(fmt.Errorf("%w: message wants at least 4, got %d", ErrFieldCount, len(parts)))
	}

	username := strings.TrimSpace(parts[1])
	stamp := strings.TrimSpace(parts[2])
	text := strings.TrimSpace(parts[3])

	if username == "" {
		return nil, invalid(fmt.Errorf("%w: username", ErrEmptyField))
	}
	if text == "" {
		return nil, invalid(fmt.Errorf("%w: text", ErrEmptyField))
	}

	ts, err := ParseTimestamp(stamp)
	if err != nil {
		return nil, invalid(err)
	}

	return ChatMessage{Username: username, Timestamp: ts, Text: text, Raw: raw}, nil
}

func parseUserList(parts []string) (Message, error) {
	if len(parts) != 2 {
		return nil, invalid(fmt.Errorf("%w: user list wants 2, got %d", ErrFieldCount, len(parts)))
	}
	var users []string
	if parts[1] != "" {
		users = strings.Split(parts[1], UserSeparator)
	}
	return UserListNotice{Usernames: users}, nil
}

// ParseTimestamp parses an ISO-8601 date or date-time. Values without an
// offset are interpreted as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, value)
}

func invalid(reason error) error {
	return fmt.Errorf("%w: %w", ErrInvalidFrame, reason)
}

// LoginResponse builds the reply sent after every login attempt.
func LoginResponse(ok bool) string {
	status := loginFailed
	if ok {
		status = loginSucceeded
	}
	return string(CommandLoginResponse) + Separator + status
}

// UserList builds the roster frame for the given usernames, preserving order.
func UserList(usernames []string) string {
	return string(CommandUserList) + Separator + strings.Join(usernames, UserSeparator)
}

// ChatFrame builds a chat frame. The server relays client frames verbatim, so
// this is only used by clients and tests.
func ChatFrame(username string, ts time.Time, text string) string {
	return strings.Join([]string{string(CommandChat), username, ts.Format("2006-01-02T15:04:05"), text}, Separator)
}

// LoginFrame builds a client login frame.
func LoginFrame(username, secret string) string {
	return strings.Join([]string{string(CommandLogin), username, secret}, Separator)
}
