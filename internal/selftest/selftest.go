// Package selftest drives the in-process guest simulator through scenarios
// S1-S6: each scenario is a plain function returning an error, collected
// and reported by the selftest CLI subcommand.
package selftest

import (
	"context"
	"fmt"
	"time"

	"xenstore-go/internal/guest/guesttest"
	"xenstore-go/internal/hypervisor/simhv"
	"xenstore-go/internal/service"
	"xenstore-go/internal/xswire"
)

// Result is one scenario's outcome.
type Result struct {
	Name   string
	Passed bool
	Reason string
}

type scenario struct {
	name string
	fn   func() error
}

// Run executes every scenario against a fresh harness and returns one
// Result per scenario, in a fixed order (S1 through S6).
func Run() []Result {
	scenarios := []scenario{
		{"S1_WriteReadRoundTrip", scenarioS1},
		{"S2_RelativeWatchFiresWithStrippedPrefix", scenarioS2},
		{"S3_AbsoluteWatchFiresWithFullPath", scenarioS3},
		{"S4_SelfSuppression", scenarioS4},
		{"S5_RecursiveRemove", scenarioS5},
		{"S6_RingCorruptionRecovery", scenarioS6},
	}

	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		err := sc.fn()
		r := Result{Name: sc.name, Passed: err == nil}
		if err != nil {
			r.Reason = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// harness wires one hypervisor simulator and service for a single
// scenario; scenarios do not share state.
type harness struct {
	hv  *simhv.Simulator
	svc *service.Service
	ctx context.Context
}

func newHarness() *harness {
	ctx := context.Background()
	hv := simhv.New()
	return &harness{hv: hv, svc: service.New(ctx, service.DefaultConfig(), hv, nil), ctx: ctx}
}

// connect starts domID's lifecycle and returns a guest driver bound to
// its live page and server port.
func (h *harness) connect(domID uint16) (*guesttest.Guest, error) {
	g := guesttest.NewGuest(h.hv)
	if err := h.svc.Lifecycle.Start(h.ctx, domID, g.Port(), 0); err != nil {
		return nil, fmt.Errorf("start domain %d: %w", domID, err)
	}
	page, ok := h.svc.Lifecycle.Page(uint32(domID))
	if !ok {
		return nil, fmt.Errorf("no page mapped for domain %d", domID)
	}
	port, ok := h.svc.Lifecycle.LocalPort(uint32(domID))
	if !ok {
		return nil, fmt.Errorf("no local port bound for domain %d", domID)
	}
	g.Bind(page, port)
	return g, nil
}

func expectType(typ xswire.Type, want xswire.Type, payload []byte) error {
	if typ != want {
		return fmt.Errorf("expected %s, got %s (payload %q)", want, typ, payload)
	}
	return nil
}

// scenarioS1 is a write/read round-trip.
func scenarioS1() error {
	h := newHarness()
	g, err := h.connect(2)
	if err != nil {
		return err
	}

	typ, payload, err := g.Request(xswire.TypeWrite, 0, []byte("foo\x00bar"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWrite, payload); err != nil {
		return err
	}
	if string(payload) != "OK\x00" {
		return fmt.Errorf("write reply payload = %q, want \"OK\\x00\"", payload)
	}

	typ, payload, err = g.Request(xswire.TypeRead, 0, []byte("foo\x00"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeRead, payload); err != nil {
		return err
	}
	if string(payload) != "bar" {
		return fmt.Errorf("read reply payload = %q, want \"bar\"", payload)
	}
	return nil
}

// scenarioS2 checks a relative watch fires with a stripped prefix.
func scenarioS2() error {
	h := newHarness()
	g, err := h.connect(3)
	if err != nil {
		return err
	}

	typ, payload, err := g.Request(xswire.TypeWatch, 0, []byte("cfg\x00tok1"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWatch, payload); err != nil {
		return err
	}

	// Control domain (domid 0) writes into domid 3's private subtree.
	if err := h.svc.Store.Write("/local/domain/3/cfg/x", []byte("1"), 0); err != nil {
		return err
	}

	path, token, err := g.WaitEvent(2 * time.Second)
	if err != nil {
		return err
	}
	if path != "cfg/x" || token != "tok1" {
		return fmt.Errorf("watch event = (%q, %q), want (\"cfg/x\", \"tok1\")", path, token)
	}
	return nil
}

// scenarioS3 checks an absolute watch fires with the full path.
func scenarioS3() error {
	h := newHarness()
	g, err := h.connect(3)
	if err != nil {
		return err
	}

	typ, payload, err := g.Request(xswire.TypeWatch, 0, []byte("/local/domain/3/cfg\x00tok2"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWatch, payload); err != nil {
		return err
	}

	if err := h.svc.Store.Write("/local/domain/3/cfg/x", []byte("1"), 0); err != nil {
		return err
	}

	path, token, err := g.WaitEvent(2 * time.Second)
	if err != nil {
		return err
	}
	if path != "/local/domain/3/cfg/x" || token != "tok2" {
		return fmt.Errorf("watch event = (%q, %q), want (\"/local/domain/3/cfg/x\", \"tok2\")", path, token)
	}
	return nil
}

// scenarioS4 checks self-suppression: a guest never observes its own
// mutation, even on a watch it owns itself.
func scenarioS4() error {
	h := newHarness()
	g, err := h.connect(3)
	if err != nil {
		return err
	}

	typ, payload, err := g.Request(xswire.TypeWatch, 0, []byte("/a\x00t"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWatch, payload); err != nil {
		return err
	}

	typ, payload, err = g.Request(xswire.TypeWrite, 0, []byte("/a/b\x00v"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWrite, payload); err != nil {
		return err
	}

	if _, _, err := g.WaitEvent(200 * time.Millisecond); err == nil {
		return fmt.Errorf("expected no watch event for a self-mutation, but one arrived")
	}
	return nil
}

// scenarioS5 is a recursive remove.
func scenarioS5() error {
	h := newHarness()
	g, err := h.connect(5)
	if err != nil {
		return err
	}

	typ, payload, err := g.Request(xswire.TypeWrite, 0, []byte("/x/y/z\x00v"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeWrite, payload); err != nil {
		return err
	}

	// RM replies only on failure (preserved quirk), so a successful wire
	// RM would leave Request waiting for a frame that never comes; the
	// removal is made through the store directly instead.
	if err := h.svc.Store.Rm("/x", 5); err != nil {
		return fmt.Errorf("rm /x: %w", err)
	}

	typ, payload, err = g.Request(xswire.TypeRead, 0, []byte("/x/y/z\x00"))
	if err != nil {
		return err
	}
	if err := expectType(typ, xswire.TypeError, payload); err != nil {
		return err
	}
	if string(payload) != "ENOENT\x00" {
		return fmt.Errorf("read of removed path = %q, want \"ENOENT\\x00\"", payload)
	}

	names, err := h.svc.Store.Directory("/")
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == "x" {
			return fmt.Errorf("directory / still lists \"x\" after rm")
		}
	}
	return nil
}

// scenarioS6 is ring corruption recovery: the peer advances req_prod
// past any possible legitimate value; the server must reset both indices
// and keep serving well-formed requests afterward.
func scenarioS6() error {
	h := newHarness()
	g, err := h.connect(6)
	if err != nil {
		return err
	}

	page, ok := h.svc.Lifecycle.Page(6)
	if !ok {
		return fmt.Errorf("no page for domain 6")
	}
	localPort, ok := h.svc.Lifecycle.LocalPort(6)
	if !ok {
		return fmt.Errorf("no local port for domain 6")
	}

	corrupt := page.ReqCons.Load() + uint32(len(page.Req)) + 1
	page.ReqProd.Store(corrupt)
	h.hv.NotifyEvtchn(localPort)

	// Give the worker a moment to observe and reset the corrupted indices
	// before sending a well-formed request on the now-clean ring.
	time.Sleep(50 * time.Millisecond)

	typ, payload, err := g.Request(xswire.TypeWrite, 0, []byte("foo2\x00bar2"))
	if err != nil {
		return fmt.Errorf("request after corruption: %w", err)
	}
	if err := expectType(typ, xswire.TypeWrite, payload); err != nil {
		return err
	}
	if string(payload) != "OK\x00" {
		return fmt.Errorf("post-recovery write reply = %q, want \"OK\\x00\"", payload)
	}
	return nil
}
