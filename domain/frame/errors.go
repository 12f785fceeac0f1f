package frame

import "errors"

// ErrShortFrame is returned when fewer bytes remain than a frame's fixed
// or length-prefixed fields demand. Callers at the packet-codec layer
// turn this into a connection-closing FRAME_ENCODING_ERROR.
var ErrShortFrame = errors.New("frame: short buffer")

// ErrUnknownFrameType is returned by Parse for a frame type outside the
// RFC 9000 / RFC 9221 set.
var ErrUnknownFrameType = errors.New("frame: unknown frame type")

// ErrInvalidFrame reports a frame whose fields are self-inconsistent.
// Parse does not return it; a reason phrase longer than the remaining
// buffer is reported as ErrShortFrame.
var ErrInvalidFrame = errors.New("frame: invalid contents")
