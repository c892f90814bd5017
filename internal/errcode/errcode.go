// Package errcode defines the wire-facing error vocabulary shared by the
// store, watch registry and dispatcher. Codes are the string names the
// client-side protocol already knows (xsd_errors), so no translation layer
// is needed between an internal error and the bytes written to a guest's
// ring.
package errcode

// Code is a stable, wire-facing error identifier. It is a string newtype,
// comparable, allocation-free on the happy path, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical wire codes, matching xsd_errors in the Xenstore protocol header.
// Order matters only for Errno below, which mirrors send_errno's linear scan
// and untranslatable-code fallback to EINVAL.
const (
	EINVAL     Code = "EINVAL"
	EACCES     Code = "EACCES"
	EEXIST     Code = "EEXIST"
	EROFS      Code = "EROFS"
	ENOENT     Code = "ENOENT"
	ENOMEM     Code = "ENOMEM"
	ENOSPC     Code = "ENOSPC"
	EIO        Code = "EIO"
	ENOTEMPTY  Code = "ENOTEMPTY"
	ENOSYS     Code = "ENOSYS"
	EBUSY      Code = "EBUSY"
	EAGAIN     Code = "EAGAIN"
	EISCONN    Code = "EISCONN"
	E2BIG      Code = "E2BIG"
)

// errnoTable mirrors the xsd_errors array: negative errno value -> wire Code.
// The zeroth entry (EINVAL) is also the untranslatable fallback, exactly as
// in the original send_errno loop.
var errnoTable = []struct {
	errno int
	code  Code
}{
	{22, EINVAL},    // EINVAL
	{13, EACCES},    // EACCES
	{17, EEXIST},    // EEXIST
	{30, EROFS},     // EROFS
	{2, ENOENT},     // ENOENT
	{12, ENOMEM},    // ENOMEM
	{28, ENOSPC},    // ENOSPC
	{5, EIO},        // EIO
	{39, ENOTEMPTY}, // ENOTEMPTY
	{38, ENOSYS},    // ENOSYS
	{16, EBUSY},     // EBUSY
	{11, EAGAIN},    // EAGAIN
	{106, EISCONN},  // EISCONN
	{7, E2BIG},      // E2BIG
}

// Errno translates a positive or negative errno magnitude to its wire Code,
// defaulting to EINVAL when the value has no entry in the table — exactly
// the "untranslatable" branch of the original send_errno.
func Errno(errno int) Code {
	if errno < 0 {
		errno = -errno
	}
	for _, e := range errnoTable {
		if e.errno == errno {
			return e.code
		}
	}
	return EINVAL
}

// E is the optional wrapper used internally when an operation needs to keep
// context and a cause alongside a wire Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + string(e.C) + ": " + e.Msg
	}
	return e.Op + ": " + string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to EINVAL for anything it
// does not recognize — every error that reaches the dispatcher must resolve
// to a wire Code before a reply frame can be built.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return EINVAL
}
