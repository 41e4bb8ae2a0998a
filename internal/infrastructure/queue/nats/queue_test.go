package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestJobMessageCarriesIDInBodyAndHeader(t *testing.T) {
	msg := jobMessage("evidence.ingest", "job-1")
	if msg.Subject != "evidence.ingest" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if got := string(msg.Data); got != "job-1" {
		t.Fatalf("unexpected body %q", got)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "job-1" {
		t.Fatalf("unexpected msg id header %q", got)
	}
	if got := jobIDOf(msg); got != "job-1" {
		t.Fatalf("unexpected job id %q", got)
	}
}

func TestJobIDOfFallsBackToHeader(t *testing.T) {
	msg := nats.NewMsg("evidence.ingest")
	msg.Header.Set(nats.MsgIdHdr, " job-2 ")
	if got := jobIDOf(msg); got != "job-2" {
		t.Fatalf("unexpected job id %q", got)
	}
	if got := jobIDOf(&nats.Msg{Data: []byte("  ")}); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.ConnectTimeout != 2*time.Second || opts.ReconnectWait != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", opts)
	}
	if opts.MaxReconnects != 60 || opts.ClientName != "evidence-engine" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.RetryOnFailedConnect == nil || !*opts.RetryOnFailedConnect {
		t.Fatal("expected retry on failed connect by default")
	}

	off := false
	if got := (Options{RetryOnFailedConnect: &off}).withDefaults(); *got.RetryOnFailedConnect {
		t.Fatal("explicit retry setting must be kept")
	}
}
