package rpc

import (
	"bytes"
	"encoding/gob"
)

// registerGob makes a concrete Request/Event/ReplyResult payload loggable
// across the gob-encoded wire frames below, the same discipline
// tuplebox.RegisterGobType uses for relation cells: every concrete type
// that crosses an `any` boundary must be registered once at init.
func registerGob(v any) { gob.Register(v) }

// FrameTag distinguishes the two request-frame origins of spec §6: a host
// process authenticating with its own HostToken, or a client multiplexed
// through a host and identified by its 16-byte client id.
//
// Every request is five ZMQ frames: [identity, tag, client-id (16 raw
// bytes), token, body]. For HostToDaemon the client-id frame is present
// but unused (all zero bytes); for HostClientToDaemon it is the frame's
// own claim of which client this request is for, per spec.md:232 — kept
// independent of whatever client id is embedded in the token so the two
// can be cross-checked (spec.md:274/283: a token's embedded client id
// that disagrees with the frame's client id is a replay and must be
// rejected before reaching the scheduler).
type FrameTag int

const (
	HostToDaemon FrameTag = iota
	HostClientToDaemon
)

// clientIDFrameLen is the fixed size of the raw client-id wire frame.
const clientIDFrameLen = 16

// encodeBody gob-encodes a Request, Event, or ReplyResult payload boxed in
// an `any` cell, the wire format's length-implicit body encoding (gob
// frames are self-delimiting once read off a length-prefixed ZMQ frame).
func encodeBody(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBody(b []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
