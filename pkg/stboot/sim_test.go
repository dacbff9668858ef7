package stboot

import (
	"bytes"
	"errors"
	"testing"
)

func TestIdentifySimTarget(t *testing.T) {
	target := NewSimTarget(0x412)

	id, err := Identify(target, Config{})
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if id != 0x412 {
		t.Errorf("Identify() = 0x%X, want 0x412", id)
	}

	want := []byte{SyncByte, 0x00, 0xFF, 0x02, 0xFD}
	if got := target.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = % X, want % X", got, want)
	}
}

func TestIdentifyAlreadySyncedTarget(t *testing.T) {
	target := NewSimTarget(0x410)
	if _, err := Identify(target, Config{}); err != nil {
		t.Fatalf("first Identify() error = %v", err)
	}

	// A second session without a reset finds the target synchronized: the
	// first sync byte is swallowed as half a frame and the second one
	// completes a frame with a bad checksum.
	id, err := Identify(target, Config{})
	if err != nil {
		t.Fatalf("second Identify() error = %v", err)
	}
	if id != 0x410 {
		t.Errorf("Identify() = 0x%X, want 0x410", id)
	}
}

func TestIdentifyHaltedTarget(t *testing.T) {
	target := NewSimTarget(0x410)
	target.Halt()

	if _, err := Identify(target, Config{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Identify() error = %v, want ErrTimeout", err)
	}
}

func TestIdentifyBadIDPayload(t *testing.T) {
	target := NewSimTarget(0x410)
	target.IDPayload = []byte{0x00, 0x04, 0x10}

	if _, err := Identify(target, Config{}); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Identify() error = %v, want ErrProtocol", err)
	}
}

func TestSimTargetWithoutGetID(t *testing.T) {
	target := NewSimTarget(0x410)
	target.Commands = []byte{0x00, 0x01, 0x11}

	_, err := Identify(target, Config{})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("Identify() error = %v, want ErrUnsupportedCommand", err)
	}
}

func TestSimTargetBootReset(t *testing.T) {
	target := NewSimTarget(0x410)
	if _, err := Identify(target, Config{}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if !target.Synced() {
		t.Fatal("target not synced after Identify")
	}

	target.Boot(true)
	if target.Synced() {
		t.Error("target still synced after reset")
	}
}
