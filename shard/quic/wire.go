package quic

import (
	"encoding/binary"
	"fmt"
	"io"

	proto "github.com/gogo/protobuf/proto"
)

// MaxFrameSize bounds a single encoded request or response.
const MaxFrameSize = 80 << 20

// writeFrame writes msg with a 4-byte big-endian length prefix.
func writeFrame(w io.Writer, msg proto.Message) error {
	buf, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	if len(buf) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(buf), MaxFrameSize)
	}
	frame := make([]byte, 4+len(buf))
	binary.BigEndian.PutUint32(frame, uint32(len(buf)))
	copy(frame[4:], buf)
	_, err = w.Write(frame)
	return err
}

// readFrame reads one length-prefixed message into msg.
func readFrame(r io.Reader, msg proto.Message) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", length, MaxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return proto.Unmarshal(buf, msg)
}
