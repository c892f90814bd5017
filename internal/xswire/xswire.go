// Package xswire defines the wire format shared by every guest connection:
// the 16-byte frame header, the opcode vocabulary, and the NUL-delimited
// payload encodings used by the path+token opcodes.
package xswire

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of a frame header:
// type:u32, req_id:u32, tx_id:u32, len:u32, host endian.
const HeaderSize = 16

// Type is a wire opcode.
type Type uint32

const (
	TypeDebug Type = iota
	TypeDirectory
	TypeRead
	TypeGetPerms
	TypeWatch
	TypeUnwatch
	TypeTransactionStart
	TypeTransactionEnd
	TypeIntroduce
	TypeRelease
	TypeGetDomainPath
	TypeWrite
	TypeMkdir
	TypeRm
	TypeSetPerms
	TypeWatchEvent
	TypeError
	TypeIsDomainIntroduced
	TypeResume
	TypeSetTarget
	TypeResetWatches
	TypeDirectoryPart
	TypeControl

	typeCount
)

// Count is the number of known opcodes; a header whose Type is >= Count is
// always rejected with ENOSYS.
const Count = int(typeCount)

var typeNames = [...]string{
	"DEBUG", "DIRECTORY", "READ", "GET_PERMS", "WATCH", "UNWATCH",
	"TRANSACTION_START", "TRANSACTION_END", "INTRODUCE", "RELEASE",
	"GET_DOMAIN_PATH", "WRITE", "MKDIR", "RM", "SET_PERMS",
	"WATCH_EVENT", "ERROR", "IS_DOMAIN_INTRODUCED", "RESUME", "SET_TARGET",
	"RESET_WATCHES", "DIRECTORY_PART", "CONTROL",
}

// String renders a Type as its wire opcode name, e.g. "WRITE".
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// Header is the 16-byte frame header preceding every request and reply.
type Header struct {
	Type  Type
	ReqID uint32
	TxID  uint32
	Len   uint32
}

// Encode writes the header in host (little) endian order, matching a plain
// C struct layout over shared memory.
func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(b[4:8], h.ReqID)
	binary.LittleEndian.PutUint32(b[8:12], h.TxID)
	binary.LittleEndian.PutUint32(b[12:16], h.Len)
	return b
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header.
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Type:  Type(binary.LittleEndian.Uint32(b[0:4])),
		ReqID: binary.LittleEndian.Uint32(b[4:8]),
		TxID:  binary.LittleEndian.Uint32(b[8:12]),
		Len:   binary.LittleEndian.Uint32(b[12:16]),
	}
}

// SplitNulFields splits payload on NUL bytes into at most n fields, the
// last field retaining any remainder (including further NULs), mirroring
// how WRITE's path\0value payload is parsed: the path consumes up to the
// first NUL, the value is everything after it, NUL-terminator or not.
func SplitNulFields(payload []byte, n int) [][]byte {
	out := make([][]byte, 0, n)
	rest := payload
	for len(out) < n-1 {
		i := indexByte(rest, 0)
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = rest[i+1:]
	}
	out = append(out, rest)
	return out
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// TrimNul drops one trailing NUL byte if present.
func TrimNul(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}
