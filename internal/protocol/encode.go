package protocol

import "strings"

const separator = " "

// Encode renders msg as "<METHOD> <arg> <arg>...". The transport appends CRLF.
//
// The wire format has no quoting, so an argument containing whitespace cannot
// be represented; such messages are rejected instead of being mangled.
func Encode(msg Message) (string, error) {
	if !msg.Method.Known() {
		return "", UnknownMethodError{Token: string(msg.Method)}
	}
	if len(msg.Args) == 0 {
		return string(msg.Method), nil
	}
	var b strings.Builder
	b.WriteString(string(msg.Method))
	for _, arg := range msg.Args {
		if err := checkArg(arg); err != nil {
			return "", err
		}
		b.WriteString(separator)
		b.WriteString(arg)
	}
	return b.String(), nil
}

func checkArg(arg string) error {
	if arg == "" {
		return ErrEmptyArgument
	}
	if strings.ContainsAny(arg, " \t\r\n") {
		return ErrArgumentHasSpace
	}
	return nil
}
