// Package protocol defines the TCP request/reply wire messages described
// in SPEC_FULL.md §4.4, encoded through internal/codec: one framed request,
// one framed reply, per connection. Grounded on the original source's
// Request/GetResponse/SetResponse/RemoveResponse enums, collapsed into one
// request shape and one reply shape, both carried by LogCodec instead of
// bson.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

// Command names accepted in a Request's Cmd field.
const (
	CmdGet     = "GET"
	CmdSet     = "SET"
	CmdRm      = "RM"
	CmdRemove  = "REMOVE"
	CmdDelete  = "DELETE"
	CmdKill    = "KILL"
)

// Status enumerates every reply outcome.
type Status uint8

const (
	Success Status = iota
	InvalidArguments
	InvalidCommand
	KeyNotFound
	ServerInternalError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case InvalidArguments:
		return "InvalidArguments"
	case InvalidCommand:
		return "InvalidCommand"
	case KeyNotFound:
		return "KeyNotFound"
	case ServerInternalError:
		return "ServerInternalError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

const (
	tagRequest uint8 = 20
	tagReply   uint8 = 21
)

// Request is one client call: a command name plus its ordered arguments.
type Request struct {
	Cmd      string
	Argument []string
}

// Reply is one server response: a status and, for GET, whether a value was
// found and what it was (or, for an error, a human-readable description).
// Found distinguishes a GET miss (Found: false, Result: "") from a hit on
// a key whose value happens to be the empty string.
type Reply struct {
	Status Status
	Found  bool
	Result string
}

// RequiredArgs reports the exact argument count §4.4 mandates for cmd, and
// whether cmd is recognized at all.
func RequiredArgs(cmd string) (count int, known bool) {
	switch cmd {
	case CmdGet, CmdRm, CmdRemove, CmdDelete:
		return 1, true
	case CmdSet:
		return 2, true
	case CmdKill:
		return 0, true
	default:
		return 0, false
	}
}

// WriteRequest frames and writes req to w.
func WriteRequest(w io.Writer, req *Request) error {
	_, err := w.Write(codec.Encode(tagRequest, encodeRequest(req)))
	return err
}

// ReadRequest reads and decodes exactly one framed request from r.
func ReadRequest(r io.Reader) (*Request, error) {
	tag, payload, err := codec.Decode(r)
	if err != nil {
		return nil, err
	}
	if tag != tagRequest {
		return nil, fmt.Errorf("%w: unexpected tag %d for request", kvserrors.ErrUnknownProtocol, tag)
	}
	return decodeRequest(payload)
}

// WriteReply frames and writes rep to w.
func WriteReply(w io.Writer, rep *Reply) error {
	_, err := w.Write(codec.Encode(tagReply, encodeReply(rep)))
	return err
}

// ReadReply reads and decodes exactly one framed reply from r.
func ReadReply(r io.Reader) (*Reply, error) {
	tag, payload, err := codec.Decode(r)
	if err != nil {
		return nil, err
	}
	if tag != tagReply {
		return nil, fmt.Errorf("%w: unexpected tag %d for reply", kvserrors.ErrUnknownProtocol, tag)
	}
	return decodeReply(payload)
}

func encodeRequest(req *Request) []byte {
	size := 4 + len(req.Cmd) + 4
	for _, arg := range req.Argument {
		size += 4 + len(arg)
	}

	buf := make([]byte, size)
	offset := putLengthPrefixed(buf, 0, req.Cmd)
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(req.Argument)))
	offset += 4
	for _, arg := range req.Argument {
		offset = putLengthPrefixed(buf, offset, arg)
	}
	return buf
}

func decodeRequest(payload []byte) (*Request, error) {
	cmd, offset, err := getLengthPrefixed(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding request command: %v", kvserrors.ErrCorruptFrame, err)
	}
	if len(payload)-offset < 4 {
		return nil, fmt.Errorf("%w: request truncated before argument count", kvserrors.ErrCorruptFrame)
	}
	argc := binary.BigEndian.Uint32(payload[offset : offset+4])
	offset += 4

	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		var arg string
		arg, offset, err = getLengthPrefixed(payload, offset)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding request argument %d: %v", kvserrors.ErrCorruptFrame, i, err)
		}
		args = append(args, arg)
	}

	return &Request{Cmd: cmd, Argument: args}, nil
}

func encodeReply(rep *Reply) []byte {
	buf := make([]byte, 2+4+len(rep.Result))
	buf[0] = uint8(rep.Status)
	buf[1] = boolByte(rep.Found)
	putLengthPrefixed(buf, 2, rep.Result)
	return buf
}

func decodeReply(payload []byte) (*Reply, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: reply missing status/found bytes", kvserrors.ErrCorruptFrame)
	}
	status := Status(payload[0])
	found := payload[1] != 0
	result, _, err := getLengthPrefixed(payload, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding reply result: %v", kvserrors.ErrCorruptFrame, err)
	}
	return &Reply{Status: status, Found: found, Result: result}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func putLengthPrefixed(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(s)))
	offset += 4
	copy(buf[offset:], s)
	return offset + len(s)
}

func getLengthPrefixed(payload []byte, offset int) (string, int, error) {
	if len(payload)-offset < 4 {
		return "", 0, fmt.Errorf("truncated length prefix at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint32(payload[offset : offset+4]))
	offset += 4
	if len(payload)-offset < n {
		return "", 0, fmt.Errorf("truncated string at offset %d", offset)
	}
	return string(payload[offset : offset+n]), offset + n, nil
}
