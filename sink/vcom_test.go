package sink

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/goblimey/nmea-bridge/connstate"
	"github.com/goblimey/nmea-bridge/vcom"
)

func TestVCOMSinkWritesToFallbackEndpoint(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty pair fallback is not available on windows")
	}

	v := NewVCOM("test-vcom", vcom.Config{}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer v.Stop(context.Background())

	if v.State() != connstate.Connected {
		t.Fatalf("state = %v, want Connected", v.State())
	}

	endpoint := v.Endpoint()
	if endpoint == "" {
		t.Fatal("expected non-empty endpoint")
	}

	client, err := os.OpenFile(endpoint, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open endpoint: %v", err)
	}
	defer client.Close()

	if err := v.Write(context.Background(), []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !v.Ready() {
		t.Fatal("expected Ready once a client is reading")
	}

	buf := make([]byte, 2)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hi" {
		t.Fatalf("got %q, want %q", buf, "hi")
	}
}

func TestVCOMSinkWriteBeforeStartFails(t *testing.T) {
	v := NewVCOM("test-vcom", vcom.Config{}, nil)
	if err := v.Write(context.Background(), []byte("x")); err != ErrNotReady {
		t.Fatalf("Write before Start = %v, want ErrNotReady", err)
	}
}
