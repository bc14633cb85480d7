// Package wire implements the engine's binary request transport: a
// length-prefixed, tag-length-value frame format carrying protobuf-encoded
// payloads. It is the codec half of the transport; pkg/wire.Server supplies
// the dispatch half, routing decoded frames to a *engine.Engine.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the hard ceiling on a single frame's payload, matching the
// engine's own max content size so a malicious or buggy client can't force
// an unbounded read.
const MaxFrameSize = 10 << 20

// Tag identifies the kind of request or response carried in a frame.
type Tag byte

const (
	TagLearnConcept Tag = iota + 1
	TagLearnBatch
	TagGetConcept
	TagGetNeighbours
	TagVectorSearch
	TagAddAssociation
	TagDeleteConcept
	TagDeleteAssociation
	TagCheckpoint
	TagStats
	TagFindContradictions
	TagError
)

// Frame is one decoded wire unit: a tag identifying the payload's message
// type, and the still-encoded protobuf payload bytes.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// WriteFrame writes a frame as [4-byte big-endian length][1-byte tag][payload].
// Length covers the tag byte plus the payload, so a reader knows the full
// frame size before touching the tag.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds max frame size %d", len(f.Payload), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write([]byte{byte(f.Tag)}); err != nil {
		return fmt.Errorf("wire: write tag: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r, per WriteFrame's layout.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 {
		return Frame{}, fmt.Errorf("wire: frame has zero length, missing tag byte")
	}
	if size > MaxFrameSize+1 {
		return Frame{}, fmt.Errorf("wire: frame of %d bytes exceeds max frame size %d", size, MaxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}
	return Frame{Tag: Tag(body[0]), Payload: body[1:]}, nil
}
