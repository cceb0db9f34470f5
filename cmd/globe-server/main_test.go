package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/render"
)

const infraRows = `EDITO,EDITO Hub,Brest,France,EDITO,48.39,-4.49
HPC-1,Compute One,Bologna,Italy,HPC,44.49,11.34
`

func TestGlobeServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataSource = dir
	cfg.InitialLayers = []string{"infra"}
	cfg.Frame.Interval = 10 * time.Millisecond
	if err := os.WriteFile(filepath.Join(dir, cfg.Infra.Path), []byte(infraRows), 0o644); err != nil {
		t.Fatalf("write infra: %v", err)
	}

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), httpLis, grpcLis)
	}()

	base := "http://" + httpLis.Addr().String()
	frame := waitForFrame(t, base+"/api/v1/frame", func(f render.Frame) bool {
		return f.Layers["infra"] == "VISIBLE" && len(f.Labels) == 2
	})
	if len(frame.Arcs) != 3 {
		t.Fatalf("arcs = %d, want 3", len(frame.Arcs))
	}

	resp, err := http.Post(base+"/api/v1/commands", "application/json", strings.NewReader(`{"type":"toggle_freeze","seq":7}`))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	var reply render.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || reply.Type != render.ReplyAck || reply.Seq != 7 {
		t.Fatalf("status=%d reply=%+v", resp.StatusCode, reply)
	}
	waitForFrame(t, base+"/api/v1/frame", func(f render.Frame) bool { return f.Frozen })

	metrics := get(t, base+"/metrics")
	if !strings.Contains(metrics, "globe_frames_total") || !strings.Contains(metrics, "globe_layer_loads_total") {
		t.Fatalf("metrics missing engine series")
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v", health.GetStatus())
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.InitialLayers = []string{"clouds"}
	if err := run(context.Background(), cfg, logging.Noop(), nil, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func waitForFrame(t *testing.T, url string, cond func(render.Frame) bool) render.Frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var f render.Frame
				if err := json.NewDecoder(bytes.NewReader(body)).Decode(&f); err == nil && cond(f) {
					return f
				}
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no matching frame from %s", url)
	return render.Frame{}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(body)
}
