// Package client is motionbridgectl's counterpart to pkg/ipc's loopback
// command server: it dials the daemon's Unix socket, sends one
// newline-delimited JSON request, and decodes the matching response.
// Grounded on strandctl's pkg/api.APIClient (a narrow, typed interface
// per operation) and its client.go's dial-per-call pattern, adapted
// from an HTTP REST client to this daemon's raw socket wire format.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"motionbridge/pkg/channel"
)

// dialTimeout bounds how long connecting to the daemon's socket may
// take before a Client call gives up.
const dialTimeout = 5 * time.Second

type request struct {
	Op              string `json:"op"`
	Channel         string `json:"channel,omitempty"`
	Code            string `json:"code,omitempty"`
	SyncFileStreams bool   `json:"sync_file_streams,omitempty"`
	Key             string `json:"key,omitempty"`
}

type response struct {
	OK      bool            `json:"ok"`
	Reply   string          `json:"reply,omitempty"`
	Flushed bool            `json:"flushed,omitempty"`
	Patch   string          `json:"patch,omitempty"`
	Stats   []channel.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to one motionbridged instance over its Unix socket.
type Client struct {
	socketPath string
}

// New returns a Client that dials socketPath for every call.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

func (c *Client) call(req request) (response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return response{}, fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return response{}, fmt.Errorf("encode request: %w", err)
	}

	var resp response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}
		return response{}, fmt.Errorf("daemon closed connection without replying")
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// Code submits one line of G/M-code to chName and waits for its
// reply.
func (c *Client) Code(chName, code string) (string, error) {
	resp, err := c.call(request{Op: "Code", Channel: chName, Code: code})
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// Flush waits for chName's pending work to drain.
func (c *Client) Flush(chName string, syncFileStreams bool) (bool, error) {
	resp, err := c.call(request{Op: "Flush", Channel: chName, SyncFileStreams: syncFileStreams})
	if err != nil {
		return false, err
	}
	return resp.Flushed, nil
}

// Lock requests exclusive movement lock on behalf of chName.
func (c *Client) Lock(chName string) error {
	_, err := c.call(request{Op: "LockObjectModel", Channel: chName})
	return err
}

// Unlock releases a lock previously taken with Lock.
func (c *Client) Unlock(chName string) error {
	_, err := c.call(request{Op: "UnlockObjectModel", Channel: chName})
	return err
}

// GetObjectModel returns the raw JSON patch stored under key.
func (c *Client) GetObjectModel(key string) (string, error) {
	resp, err := c.call(request{Op: "GetObjectModel", Key: key})
	if err != nil {
		return "", err
	}
	return resp.Patch, nil
}

// Status returns Diagnostics for chName, or every channel when chName
// is empty.
func (c *Client) Status(chName string) ([]channel.Stats, error) {
	resp, err := c.call(request{Op: "Status", Channel: chName})
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}
