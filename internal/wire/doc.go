// Package wire implements the length-prefixed binary framing protocol spoken
// between clients and the storage server over a local stream socket.
//
// # Overview
//
// A request is a fixed-width opcode optionally followed by a path frame
// and/or a content frame and/or a signed count. A path frame is a u64
// length followed by that many NUL-terminated bytes; a content frame is a
// u64 length followed by that many raw bytes (zero-length content is
// legal, zero-length path is a protocol error). Every integer is written
// little-endian with encoding/binary (binary.LittleEndian); this protocol
// never crosses machine boundaries (it rides a local unix-domain socket).
//
// # Framing discipline
//
// ReadRequest and WriteResponse fully drain or fully fill their frames
// before returning: a short read from the peer never yields a partial
// struct, it yields io.ErrUnexpectedEOF (treated by callers as connection
// loss) or a protocol error. Writers issue one Write call per frame and do
// not retry: they rely on the io.Writer contract that a short write
// returns a non-nil error, and pass that error back to the caller.
package wire
