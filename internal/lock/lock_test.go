package lock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireUnlockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")

	unlock, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	unlock2, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
}

func TestAcquireBlocksConcurrentHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.lock")

	unlock, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan Unlock, 1)
	go func() {
		u, err := Acquire(path)
		if err != nil {
			t.Error(err)
			return
		}
		acquired <- u
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned while the first lock was still held")
	case <-time.After(100 * time.Millisecond):
	}

	if err := unlock(); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-acquired:
		if err := u(); err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never completed after the first lock was released")
	}
}
