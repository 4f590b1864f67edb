package netpoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestWaitReportsReadReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() err = %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d, err := New(8)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer d.Close()

	if err := d.Add(fds[0], EventRead|EventEdge|EventOneShot); err != nil {
		t.Fatalf("Add() err = %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("hi")); err != nil {
		t.Fatalf("Write() err = %v", err)
	}

	n, err := d.Wait(1000)
	if err != nil {
		t.Fatalf("Wait() err = %v", err)
	}
	if n != 1 {
		t.Fatalf("Wait() n = %d, want 1", n)
	}
	if d.EventFD(0) != fds[0] {
		t.Fatalf("EventFD(0) = %d, want %d", d.EventFD(0), fds[0])
	}
	if d.EventMask(0)&EventRead == 0 {
		t.Fatalf("EventMask(0) = %#x, missing EventRead", d.EventMask(0))
	}
}

func TestOneShotRequiresModifyToRearm(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() err = %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d, err := New(8)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer d.Close()

	if err := d.Add(fds[0], EventRead|EventEdge|EventOneShot); err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	unix.Write(fds[1], []byte("a"))

	if n, err := d.Wait(1000); err != nil || n != 1 {
		t.Fatalf("first Wait() = (%d, %v), want (1, nil)", n, err)
	}
	// Drain so the fd is no longer readable, then send more without
	// re-arming: one-shot means no further event should be reported.
	buf := make([]byte, 1)
	unix.Read(fds[0], buf)
	unix.Write(fds[1], []byte("b"))

	n, err := d.Wait(200)
	if err != nil {
		t.Fatalf("second Wait() err = %v", err)
	}
	if n != 0 {
		t.Fatalf("second Wait() n = %d, want 0 before Modify re-arms", n)
	}

	if err := d.Modify(fds[0], EventRead|EventEdge|EventOneShot); err != nil {
		t.Fatalf("Modify() err = %v", err)
	}
	n, err = d.Wait(1000)
	if err != nil || n != 1 {
		t.Fatalf("Wait() after Modify = (%d, %v), want (1, nil)", n, err)
	}
}

func TestRemoveStopsFurtherEvents(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() err = %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d, err := New(8)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	defer d.Close()

	if err := d.Add(fds[0], EventRead); err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	if err := d.Remove(fds[0]); err != nil {
		t.Fatalf("Remove() err = %v", err)
	}
	unix.Write(fds[1], []byte("x"))

	start := time.Now()
	n, err := d.Wait(200)
	if err != nil {
		t.Fatalf("Wait() err = %v", err)
	}
	if n != 0 {
		t.Fatalf("Wait() n = %d, want 0 after Remove", n)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatal("Wait() returned suspiciously early")
	}
}
