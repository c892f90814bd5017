package store

import (
	"testing"

	"xenstore-go/internal/errcode"
)

type recordingNotifier struct {
	paths []string
	from  []uint32
}

func (r *recordingNotifier) Notify(path string, originDomID uint32) {
	r.paths = append(r.paths, path)
	r.from = append(r.from, originDomID)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New(nil)
	if err := s.Write("/a/b", []byte("v"), 2); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read("/a/b")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want v", got)
	}
}

func TestWriteEmptyValueReadsAsEmptyString(t *testing.T) {
	s := New(nil)
	if err := s.Write("/a", nil, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read("/a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestWriteEmptyValueLeavesExistingValueUntouched(t *testing.T) {
	s := New(nil)
	if err := s.Write("/a", []byte("v"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write("/a", nil, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read("/a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want existing value \"v\" left untouched", got)
	}
}

func TestReadMissingIsENOENT(t *testing.T) {
	s := New(nil)
	_, err := s.Read("/nope")
	if errcode.Of(err) != errcode.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestDirectoryInsertionOrder(t *testing.T) {
	s := New(nil)
	s.Write("/a/one", nil, 0)
	s.Write("/a/two", nil, 0)
	s.Write("/a/three", nil, 0)
	got, err := s.Directory("/a")
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDirectoryOfMissingNodeIsENOENT(t *testing.T) {
	s := New(nil)
	_, err := s.Directory("/nope")
	if errcode.Of(err) != errcode.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestRecursiveRemove(t *testing.T) {
	s := New(nil)
	s.Write("/x/y/z", []byte("v"), 0)
	if err := s.Rm("/x", 0); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if _, err := s.Read("/x/y/z"); errcode.Of(err) != errcode.ENOENT {
		t.Fatalf("expected ENOENT after rm, got %v", err)
	}
	names, err := s.Directory("/")
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	for _, n := range names {
		if n == "x" {
			t.Fatal("expected /x to be gone from root listing")
		}
	}
}

func TestRmMissingIsEINVAL(t *testing.T) {
	s := New(nil)
	err := s.Rm("/nope", 0)
	if errcode.Of(err) != errcode.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestRmRootIsEINVAL(t *testing.T) {
	s := New(nil)
	err := s.Rm("/", 0)
	if errcode.Of(err) != errcode.EINVAL {
		t.Fatalf("expected EINVAL removing root, got %v", err)
	}
}

func TestMkdirIdempotentPreservesValue(t *testing.T) {
	s := New(nil)
	s.Write("/a", []byte("v"), 0)
	if err := s.Mkdir("/a", 0); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := s.Read("/a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("mkdir clobbered existing value: got %q", got)
	}
}

func TestTrailingAndDoubleSlashEquivalence(t *testing.T) {
	s := New(nil)
	s.Write("/a/b/", []byte("v1"), 0)
	got, err := s.Read("/a//b")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q, want v1", got)
	}
}

func TestMutationNotifiesWithOriginDomID(t *testing.T) {
	n := &recordingNotifier{}
	s := New(n)
	s.Write("/a", []byte("v"), 7)
	s.Mkdir("/b", 0)
	s.Rm("/a", 7)

	if len(n.paths) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(n.paths))
	}
	if n.paths[0] != "/a" || n.from[0] != 7 {
		t.Fatalf("unexpected first notification: %q from %d", n.paths[0], n.from[0])
	}
}
