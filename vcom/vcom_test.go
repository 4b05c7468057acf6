package vcom

import (
	"context"
	"os"
	"runtime"
	"testing"
)

func TestNewFallsBackToPtyWhenPortAbsent(t *testing.T) {
	p, err := New(Config{WritePortName: "/dev/does-not-exist-xyz"})
	if runtime.GOOS == "windows" {
		if err == nil {
			t.Fatal("expected error selecting a provider on windows without a paired port")
		}
		return
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*ptyPair); !ok {
		t.Fatalf("got %T, want *ptyPair fallback", p)
	}
}

func TestPtyPairWriteAndReadback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty pair fallback is not available on windows")
	}

	p, err := newPtyPair()
	if err != nil {
		t.Fatalf("newPtyPair: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	pair := p.(*ptyPair)
	client, err := os.OpenFile(pair.Endpoint(), os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open slave: %v", err)
	}
	defer client.Close()

	if err := p.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !p.IsReady() {
		t.Fatal("expected ready after successful write with a connected client")
	}

	buf := make([]byte, 5)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

func TestPtyPairEndpointEmptyBeforeOpen(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty pair fallback is not available on windows")
	}
	p, err := newPtyPair()
	if err != nil {
		t.Fatalf("newPtyPair: %v", err)
	}
	if got := p.Endpoint(); got != "" {
		t.Fatalf("Endpoint() before Open = %q, want empty", got)
	}
}
