package queue

import (
	"fmt"
	"net"

	"github.com/cuemby/strata/pkg/types"
	"github.com/google/uuid"
)

// Client is the producer side of the transport: one persistent connection
// per process, used to enqueue commands and later collect their results.
// This is the async-mode transport behind pkg/client's CheckpointEnd and
// CheckpointWait; async restart_test reads a versions sidecar instead.
type Client struct {
	conn net.Conn
}

// Dial connects to a backend Server's Unix domain socket.
func Dial(sockPath string) (*Client, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("queue: dial %s: %w", sockPath, err)
	}
	return &Client{conn: conn}, nil
}

// Enqueue submits cmd and returns immediately; the caller collects the
// result later with WaitCompletion. UniqueID is filled in with a fresh
// uuid if empty.
func (c *Client) Enqueue(cmd types.Command) (types.Command, error) {
	if cmd.UniqueID == "" {
		cmd.UniqueID = uuid.NewString()
	}
	if err := WriteCommand(c.conn, cmd); err != nil {
		return cmd, fmt.Errorf("queue: enqueue: %w", err)
	}
	return cmd, nil
}

// WaitCompletion blocks until the server replies to the oldest command
// still outstanding on this connection. Because each
// Client owns exactly one connection and the server replies in the order
// commands are dispatched from it, this always resolves the oldest
// outstanding command first.
func (c *Client) WaitCompletion() (types.Result, error) {
	result, err := ReadResult(c.conn)
	if err != nil {
		return 0, fmt.Errorf("queue: wait_completion: %w", err)
	}
	return result, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
