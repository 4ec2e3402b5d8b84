package daemon_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"aisio/internal/api"
	"aisio/internal/config"
	"aisio/internal/daemon"
	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/metrics"
	"aisio/internal/testsupport"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

func newDaemon(t *testing.T, cfg *config.Config, role transport.Role, router *event.Router) *daemon.Daemon {
	t.Helper()
	if router == nil {
		router = event.NewRouter(event.Config{})
	}
	d, err := daemon.New(daemon.Options{
		Config:  cfg,
		Role:    role,
		Router:  router,
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, transport.RoleServer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Role != transport.RoleServer || status.Address == "" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if !strings.HasSuffix(status.LockFilePath, "aisio-server-0.lock") {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to stop")
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("expected Done to be closed after Stop")
	}
}

func TestDaemonSingleInstancePerRoleAndPort(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	first := newDaemon(t, cfg, transport.RoleServer, nil)
	second := newDaemon(t, cfg, transport.RoleServer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestLockPathUsesRolePort(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = "/state"
	cfg.Server.Port = 7000
	cfg.Client.Port = 7001
	if got := daemon.LockPath(&cfg, transport.RoleServer); got != "/state/aisio-server-7000.lock" {
		t.Fatalf("unexpected server lock path %q", got)
	}
	if got := daemon.LockPath(&cfg, transport.RoleClient); got != "/state/aisio-client-7001.lock" {
		t.Fatalf("unexpected client lock path %q", got)
	}
}

func TestServerDaemonAPIEmit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret"
	router := event.NewRouter(event.Config{})
	router.MustRegister(event.Connect, func(context.Context, event.Conn, ...wire.Value) error { return nil })
	d := newDaemon(t, cfg, transport.RoleServer, router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	peer, err := net.Dial("tcp", d.ServerAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer peer.Close()

	client, err := api.NewClient(d.APIAddr(), "secret")
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	var conns []api.Connection
	waitUntil(t, "connection to be listed", func() bool {
		conns, err = client.Connections(ctx)
		return err == nil && len(conns) == 1
	})

	resp, err := client.Emit(ctx, conns[0].ID, "move", wire.Int32(10), wire.Int32(20))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if resp.Delivered != 1 {
		t.Fatalf("expected 1 delivered, got %d", resp.Delivered)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	record, err := bufio.NewReader(peer).ReadBytes('#')
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	evt, err := frame.DecodeEvent(wire.Default, record)
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if evt.Name != "move" || len(evt.Args) != 2 {
		t.Fatalf("unexpected event %#v", evt)
	}

	if _, err := client.Emit(ctx, "missing", "move"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 for unknown connection, got %v", err)
	}

	unauthenticated, _ := api.NewClient(d.APIAddr(), "")
	if _, err := unauthenticated.Broadcast(ctx, "move"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Role != "server" || len(status.Connections) != 1 {
		t.Fatalf("unexpected status %#v", status)
	}
	if len(status.Handlers) != 1 || status.Handlers[0] != event.Connect {
		t.Fatalf("unexpected handlers %v", status.Handlers)
	}
}

func TestServerDaemonServesMetrics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, transport.RoleServer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get("http://" + d.APIAddr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestClientDaemonExhaustsRetries(t *testing.T) {
	port := testsupport.FreePort(t)
	cfg := testsupport.NewConfig(t, testsupport.WithClientPort(port), testsupport.WithoutAPI())
	cfg.Client.MaxAttempts = 1
	d := newDaemon(t, cfg, transport.RoleClient, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client role did not stop after exhausting retries")
	}
	if !errors.Is(d.Err(), transport.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", d.Err())
	}
	if _, err := d.Broadcast(context.Background(), "x"); err != nil {
		t.Fatalf("Broadcast without session: %v", err)
	}
}

func TestNewRejectsUnknownRole(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(daemon.Options{Config: cfg, Role: "peer", Router: event.NewRouter(event.Config{})}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := daemon.New(daemon.Options{Role: transport.RoleServer}); err == nil {
		t.Fatal("expected error without config")
	}
}
