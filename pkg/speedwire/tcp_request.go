package speedwire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxTCPRequestLine bounds how much a server reads while looking for the size
// line. A uint64 needs at most 20 digits; the rest is slack for whitespace.
const MaxTCPRequestLine = 64

var ErrProtocolViolation = errors.New("protocol violation")

// AppendTCPRequest writes the TCP form of a request: the size in decimal ASCII
// followed by a newline. TCP carries no binary envelope.
func AppendTCPRequest(dst []byte, size uint64) []byte {
	dst = strconv.AppendUint(dst, size, 10)
	return append(dst, '\n')
}

// ParseTCPRequest accepts one size line with or without its terminator.
// Only plain decimal digits are valid; signs, blanks and overflow are not.
func ParseTCPRequest(line string) (uint64, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("%w: empty size line", ErrProtocolViolation)
	}
	for i := 0; i < len(line); i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, fmt.Errorf("%w: invalid size %q", ErrProtocolViolation, line)
		}
	}
	size, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", ErrProtocolViolation, line, err)
	}
	return size, nil
}
