// Package client implements the connect-per-request helper described in
// SPEC_FULL.md §4.6: each call opens a fresh TCP connection, writes one
// framed request, reads one framed reply, and closes. Grounded on the
// original source's KvsClient (get/set/remove/ping-free request/response
// cycle over a single TcpStream per call).
package client

import (
	"fmt"
	"net"

	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/protocol"
)

// Client dials addr fresh for every call; it holds no persistent
// connection or state.
type Client struct {
	addr string
}

// New returns a client that dials addr for each call.
func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) call(req *protocol.Request) (*protocol.Reply, error) {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", kvserrors.ErrIO, c.addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteRequest(conn, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	reply, err := protocol.ReadReply(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// statusToErr maps a non-Success status to the error taxonomy in §7.
func statusToErr(status protocol.Status, key, result string) error {
	switch status {
	case protocol.Success:
		return nil
	case protocol.KeyNotFound:
		return &kvserrors.ErrKeyNotExist{Key: key}
	default:
		if result != "" {
			return fmt.Errorf("%w: %s", kvserrors.ErrServerError, result)
		}
		return kvserrors.ErrServerError
	}
}

// Set stores key=value.
func (c *Client) Set(key, value string) error {
	reply, err := c.call(&protocol.Request{Cmd: protocol.CmdSet, Argument: []string{key, value}})
	if err != nil {
		return err
	}
	return statusToErr(reply.Status, key, reply.Result)
}

// Get retrieves the value for key. The bool reports whether key was
// present, distinguishing a miss from a hit on an empty-string value; GET
// never returns kvserrors.ErrKeyNotExist, since a missing key is Success
// with Found: false, not an error (§8.6).
func (c *Client) Get(key string) (string, bool, error) {
	reply, err := c.call(&protocol.Request{Cmd: protocol.CmdGet, Argument: []string{key}})
	if err != nil {
		return "", false, err
	}
	if reply.Status != protocol.Success {
		return "", false, statusToErr(reply.Status, key, reply.Result)
	}
	return reply.Result, reply.Found, nil
}

// Remove deletes key. Returns kvserrors.ErrKeyNotExist if the key is
// absent.
func (c *Client) Remove(key string) error {
	reply, err := c.call(&protocol.Request{Cmd: protocol.CmdRm, Argument: []string{key}})
	if err != nil {
		return err
	}
	return statusToErr(reply.Status, key, reply.Result)
}

// Kill sends the cooperative shutdown command; the server stops accepting
// new connections once it has replied.
func (c *Client) Kill() error {
	reply, err := c.call(&protocol.Request{Cmd: protocol.CmdKill})
	if err != nil {
		return err
	}
	return statusToErr(reply.Status, "", reply.Result)
}
