package protocol

import "strings"

// Decode parses a line body (tag already removed) into a message.
// Arguments are split on single spaces; there is no escaping.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, ErrEmptyLine
	}
	token, rest, _ := strings.Cut(line, separator)
	method := Method(token)
	if !method.Known() {
		return Message{}, UnknownMethodError{Token: token}
	}
	msg := Message{Method: method}
	if rest != "" {
		msg.Args = strings.Split(rest, separator)
	}
	return msg, nil
}
