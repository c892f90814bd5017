// Package xspath implements absolute/relative path normalization,
// tokenization and the bounds checks the rest of the directory service
// relies on.
package xspath

import (
	"strings"

	"xenstore-go/internal/errcode"
)

// AbsPathMax is XENSTORE_ABS_PATH_MAX: the maximum encoded length of an
// absolute path, prefix included.
const AbsPathMax = 3072

// maxLocalPathLen bounds "/local/domain/<domid>/" for domid in [0, 32767],
// matching XENSTORE_MAX_LOCALPATH_LEN in the original source.
const maxLocalPathLen = 21

// Root is the distinguished root path.
const Root = "/"

// IsAbs reports whether payload is an absolute path (begins with '/').
func IsAbs(payload string) bool {
	return len(payload) > 0 && payload[0] == '/'
}

// IsRoot reports whether payload is exactly the root path.
func IsRoot(payload string) bool {
	return IsAbs(payload) && len(payload) == 1
}

// ByteSize returns the size of s including a trailing NUL terminator, as
// str_byte_size does in the original source. Wire reply payloads for
// write-family opcodes include this terminator; READ replies do not (see
// the dispatcher).
func ByteSize(s string) int {
	if s == "" {
		return 1
	}
	return len(s) + 1
}

// Construct builds the absolute path addressed by a (possibly relative)
// wire payload: payload unchanged if already absolute, otherwise expanded
// under the caller's home subtree /local/domain/<domid>/. Fails with
// ENOMEM if the combined length would exceed AbsPathMax, mirroring
// construct_path's allocation-failure contract.
func Construct(payload string, domid uint32) (string, error) {
	pathLen := ByteSize(payload)
	if pathLen > AbsPathMax {
		return "", errcode.ENOMEM
	}
	if IsAbs(payload) {
		return payload, nil
	}
	home := HomeSubtree(domid)
	out := home + payload
	if len(out)+1 > AbsPathMax {
		return "", errcode.ENOMEM
	}
	return out, nil
}

// HomeSubtree returns a guest's private namespace, /local/domain/<domid>/.
func HomeSubtree(domid uint32) string {
	var b strings.Builder
	b.WriteString("/local/domain/")
	b.WriteString(itoa(domid))
	b.WriteByte('/')
	return b.String()
}

// DomainPath returns /local/domain/<domid> (no trailing slash), used by the
// GET_DOMAIN_PATH opcode.
func DomainPath(domid string) string {
	return "/local/domain/" + domid
}

// Tokenize splits path by '/', ignoring empty segments — so a trailing
// slash or a run of consecutive slashes behaves the same as a single
// separator.
func Tokenize(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
