// Package dispatch implements the opcode handler table,
// error translation, and reply construction. Handle has the exact shape
// guest.Handler expects so a *dispatch.Table can be wired straight into
// guest.NewWorker.
package dispatch

import (
	"strconv"
	"strings"

	"xenstore-go/internal/errcode"
	"xenstore-go/internal/guest"
	"xenstore-go/internal/store"
	"xenstore-go/internal/watch"
	"xenstore-go/internal/xspath"
	"xenstore-go/internal/xswire"
)

// Table binds the opcode handlers to one service's store and watch
// registry. The zero value is not usable; build one with New.
type Table struct {
	store   *store.Store
	watches *watch.Registry
}

// New builds a dispatch table over the given store and watch registry.
func New(s *store.Store, w *watch.Registry) *Table {
	return &Table{store: s, watches: w}
}

// Handle satisfies guest.Handler: it maps hdr.Type to the matching
// opcode handler and returns the reply to frame, or noReply=true for the
// opcodes that are fire-and-forget or deferred.
func (t *Table) Handle(c *guest.Context, hdr xswire.Header, payload []byte) (xswire.Type, []byte, bool) {
	switch hdr.Type {
	case xswire.TypeDirectory:
		return t.handleDirectory(c, payload)
	case xswire.TypeRead:
		return t.handleRead(c, payload)
	case xswire.TypeWrite:
		return t.handleWrite(c, payload)
	case xswire.TypeMkdir:
		return t.handleMkdir(c, payload)
	case xswire.TypeRm:
		return t.handleRm(c, payload)
	case xswire.TypeWatch:
		return t.handleWatch(c, payload)
	case xswire.TypeUnwatch:
		return t.handleUnwatch(c, payload)
	case xswire.TypeResetWatches:
		t.watches.Reset(c.DomID)
		return xswire.TypeResetWatches, okPayload(), false
	case xswire.TypeGetPerms:
		return xswire.TypeError, errPayload(errcode.ENOSYS), false
	case xswire.TypeSetPerms:
		return xswire.TypeSetPerms, okPayload(), false
	case xswire.TypeGetDomainPath:
		return t.handleGetDomainPath(payload)
	case xswire.TypeControl:
		return xswire.TypeControl, okPayload(), false
	case xswire.TypeTransactionStart:
		return t.handleTransactionStart(c)
	case xswire.TypeTransactionEnd:
		txID, _ := strconv.ParseUint(strings.TrimRight(string(payload), "\x00"), 10, 32)
		c.RequestEndTransaction(uint32(txID))
		return xswire.TypeTransactionEnd, nil, true
	default:
		return xswire.TypeError, errPayload(errcode.ENOSYS), false
	}
}

func okPayload() []byte { return []byte("OK\x00") }

func errPayload(c errcode.Code) []byte { return []byte(string(c) + "\x00") }

func (t *Table) handleDirectory(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	path, err := xspath.Construct(string(xswire.TrimNul(payload)), c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	names, err := t.store.Directory(path)
	if err != nil {
		names = nil // ENOENT: empty listing, not an error reply
	}
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(0)
	}
	return xswire.TypeDirectory, []byte(b.String()), false
}

func (t *Table) handleRead(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	path, err := xspath.Construct(string(xswire.TrimNul(payload)), c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	val, err := t.store.Read(path)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	return xswire.TypeRead, val, false
}

func (t *Table) handleWrite(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	fields := xswire.SplitNulFields(payload, 2)
	pathPayload := string(fields[0])
	var value []byte
	if len(fields) > 1 {
		value = fields[1]
	}
	path, err := xspath.Construct(pathPayload, c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	if err := t.store.Write(path, value, c.DomID); err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	return xswire.TypeWrite, okPayload(), false
}

func (t *Table) handleMkdir(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	pathPayload := string(xswire.TrimNul(xswire.SplitNulFields(payload, 1)[0]))
	path, err := xspath.Construct(pathPayload, c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	if err := t.store.Mkdir(path, c.DomID); err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	return xswire.TypeMkdir, okPayload(), false
}

// handleRm reproduces handle_rm as-is: unlike every
// other path opcode it does not run the payload through construct_path,
// operating on it directly, and it replies only when the removal fails —
// a successful removal is silently acknowledged by nothing at all. The
// failure reply is an XS_RM frame with an empty payload, not XS_ERROR:
// send_reply_read(domain, id, XS_RM, "") in the source never frames the
// errno at all.
func (t *Table) handleRm(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	path := string(xswire.TrimNul(payload))
	if err := t.store.Rm(path, c.DomID); err != nil {
		return xswire.TypeRm, nil, false
	}
	return xswire.TypeRm, nil, true
}

func (t *Table) handleWatch(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	fields := xswire.SplitNulFields(payload, 2)
	keyPayload := string(fields[0])
	var token string
	if len(fields) > 1 {
		token = string(xswire.TrimNul(fields[1]))
	}
	isRelative := !xspath.IsAbs(keyPayload)
	key, err := xspath.Construct(keyPayload, c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.ENOMEM), false
	}
	t.watches.Add(c.DomID, key, token, isRelative)
	return xswire.TypeWatch, okPayload(), false
}

func (t *Table) handleUnwatch(c *guest.Context, payload []byte) (xswire.Type, []byte, bool) {
	fields := xswire.SplitNulFields(payload, 2)
	keyPayload := string(fields[0])
	var token string
	if len(fields) > 1 {
		token = string(xswire.TrimNul(fields[1]))
	}
	key, err := xspath.Construct(keyPayload, c.DomID)
	if err != nil {
		return xswire.TypeError, errPayload(errcode.Of(err)), false
	}
	t.watches.Remove(c.DomID, key, token)
	return xswire.TypeUnwatch, []byte{0}, false
}

func (t *Table) handleGetDomainPath(payload []byte) (xswire.Type, []byte, bool) {
	id := string(xswire.TrimNul(payload))
	if id == "" {
		return xswire.TypeError, errPayload(errcode.EINVAL), false
	}
	path := xspath.DomainPath(id)
	return xswire.TypeGetDomainPath, []byte(path + "\x00"), false
}

func (t *Table) handleTransactionStart(c *guest.Context) (xswire.Type, []byte, bool) {
	id, ok := c.BeginTransaction()
	if !ok {
		return xswire.TypeError, errPayload(errcode.EBUSY), false
	}
	return xswire.TypeTransactionStart, []byte(strconv.FormatUint(uint64(id), 10) + "\x00"), false
}
