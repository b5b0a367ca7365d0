// Loopback command server (§6 IPC collaborators): one newline-delimited
// JSON request per connection line, dispatched to the corresponding
// corectx.Context.Channel operation. Grounded on the teacher's
// moonraker.Server request dispatch (dispatchMethod's method-name
// switch), simplified from JSON-RPC 2.0 to this daemon's own seven
// ops — the full JSON API is an external collaborator (SPEC_FULL.md
// Non-goals), this is only the boundary to it.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"

	"motionbridge/pkg/channel"
	"motionbridge/pkg/corectx"
	"motionbridge/pkg/gcode"
	"motionbridge/pkg/log"
)

// requestTimeout bounds how long a command waits on its channel waiter
// before the connection gets a timeout error instead of hanging forever
// on a wedged channel.
const requestTimeout = 30 * time.Second

// request is the wire shape of one command. Op selects which of
// Code/Flush/Lock/Unlock/GetObjectModel/Displace fields apply.
type request struct {
	Op              string   `json:"op"`
	Channel         string   `json:"channel"`
	Code            string   `json:"code,omitempty"`
	SyncFileStreams bool     `json:"sync_file_streams,omitempty"`
	Key             string   `json:"key,omitempty"`
	Body            []string `json:"body,omitempty"`
}

type response struct {
	OK      bool            `json:"ok"`
	Reply   string          `json:"reply,omitempty"`
	Flushed bool            `json:"flushed,omitempty"`
	Patch   string          `json:"patch,omitempty"`
	Stats   []channel.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Server accepts connections on a loopback Unix socket and services
// Code, Flush, LockObjectModel, UnlockObjectModel, Displace,
// GetObjectModel and Status requests against ctx's channels.
type Server struct {
	ctx         *corectx.Context
	objectModel *ObjectModelStore
	log         *log.Logger
}

// NewServer creates a Server bound to ctx's channels and om for
// GetObjectModel lookups.
func NewServer(ctx *corectx.Context, om *ObjectModelStore) *Server {
	return &Server{ctx: ctx, objectModel: om, log: ctx.Log.WithPrefix("ipc")}
}

// Serve listens on socketPath (removing any stale socket file first) and
// handles connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(response{Error: err.Error()})
			continue
		}
		enc.Encode(s.dispatch(ctx, req))
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	ch, err := gcode.ParseChannel(req.Channel)
	if err != nil && req.Op != "GetObjectModel" && req.Op != "Status" {
		return response{Error: err.Error()}
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch req.Op {
	case "Code":
		return s.handleCode(reqCtx, ch, req.Code)
	case "Flush":
		return s.handleFlush(reqCtx, ch, req.SyncFileStreams)
	case "LockObjectModel":
		return s.handleLock(reqCtx, ch)
	case "UnlockObjectModel":
		return s.handleUnlock(ch)
	case "Displace":
		return s.handleDisplace(ch, req.Code, req.Body)
	case "GetObjectModel":
		return s.handleGetObjectModel(req.Key)
	case "Status":
		return s.handleStatus(req.Channel)
	default:
		return response{Error: "unknown op " + req.Op}
	}
}

func (s *Server) handleCode(ctx context.Context, chID gcode.Channel, line string) response {
	code, err := gcode.Parse(line, chID)
	if err != nil {
		return response{Error: err.Error()}
	}
	c := s.ctx.Channel(chID)
	if c == nil {
		return response{Error: "unknown channel"}
	}
	result, err := c.Push(code).Wait(ctx)
	if err != nil {
		return response{Error: err.Error()}
	}
	if result.Aborted || result.Cancelled {
		return response{Error: "code aborted before a reply arrived"}
	}
	return response{OK: true, Reply: result.Content}
}

func (s *Server) handleFlush(ctx context.Context, chID gcode.Channel, sync bool) response {
	c := s.ctx.Channel(chID)
	if c == nil {
		return response{Error: "unknown channel"}
	}
	ok, err := c.Flush(sync).Wait(ctx)
	if err != nil {
		return response{Error: err.Error()}
	}
	return response{OK: true, Flushed: ok}
}

func (s *Server) handleLock(ctx context.Context, chID gcode.Channel) response {
	c := s.ctx.Channel(chID)
	if c == nil {
		return response{Error: "unknown channel"}
	}
	lockErr, err := c.Lock().Wait(ctx)
	if err != nil {
		return response{Error: err.Error()}
	}
	if lockErr != nil {
		return response{Error: lockErr.Error()}
	}
	return response{OK: true}
}

func (s *Server) handleUnlock(chID gcode.Channel) response {
	c := s.ctx.Channel(chID)
	if c == nil {
		return response{Error: "unknown channel"}
	}
	c.Unlock()
	return response{OK: true}
}

// handleDisplace replaces the topmost frame's pendingCodes with a
// conditional branch body, without pushing a new frame (§4.C Frame
// transitions, "Displace"). The branch body has already been read ahead
// and evaluated by the external conditional-block evaluator (the
// file-info parser's domain, §1) — this is only the boundary that lets
// it tell the channel which body the startCode's condition selected.
func (s *Server) handleDisplace(chID gcode.Channel, startLine string, bodyLines []string) response {
	c := s.ctx.Channel(chID)
	if c == nil {
		return response{Error: "unknown channel"}
	}
	startCode, err := gcode.Parse(startLine, chID)
	if err != nil {
		return response{Error: err.Error()}
	}
	body := make([]*gcode.Code, 0, len(bodyLines))
	for _, line := range bodyLines {
		code, err := gcode.Parse(line, chID)
		if err != nil {
			return response{Error: err.Error()}
		}
		body = append(body, code)
	}
	c.Displace(startCode, body)
	return response{OK: true}
}

// handleStatus reports Diagnostics for one channel, or every channel
// when channelName is empty — the boundary motionbridgectl's status
// and dashboard subcommands poll (SPEC_FULL.md SUPPLEMENTED FEATURES,
// operator diagnostics).
func (s *Server) handleStatus(channelName string) response {
	if channelName == "" {
		stats := make([]channel.Stats, 0, len(s.ctx.Channels))
		for _, ch := range s.ctx.Channels {
			if ch != nil {
				stats = append(stats, ch.Diagnostics())
			}
		}
		return response{OK: true, Stats: stats}
	}

	chID, err := gcode.ParseChannel(channelName)
	if err != nil {
		return response{Error: err.Error()}
	}
	ch := s.ctx.Channel(chID)
	if ch == nil {
		return response{Error: "unknown channel"}
	}
	return response{OK: true, Stats: []channel.Stats{ch.Diagnostics()}}
}

func (s *Server) handleGetObjectModel(key string) response {
	patch, ok := s.objectModel.Get(key)
	if !ok {
		return response{Error: "key not found"}
	}
	return response{OK: true, Patch: string(patch)}
}
