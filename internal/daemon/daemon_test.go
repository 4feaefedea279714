package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T, portMin, portMax int) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.PortMin = portMin
	cfg.Server.PortMax = portMax
	cfg.Store.Path = filepath.Join(t.TempDir(), "props.db")
	// Nothing should reach the real upstream or LLM from tests.
	cfg.Ingest.BaseURL = "http://127.0.0.1:1"
	cfg.Ingest.IntervalS = 3600
	cfg.Ingest.MinSpacingS = 1
	cfg.LLM.URL = "http://127.0.0.1:1"
	return cfg
}

// reservePorts grabs n consecutive free ports and returns the first,
// keeping listeners open on the first `hold` of them.
func reservePorts(t *testing.T, n, hold int) (base int, release func()) {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		probe, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		base = probe.Addr().(*net.TCPAddr).Port
		probe.Close()

		var held []net.Listener
		ok := true
		for i := 0; i < n && ok; i++ {
			ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base+i))
			if err != nil {
				ok = false
				break
			}
			held = append(held, ln)
		}
		if !ok {
			for _, ln := range held {
				ln.Close()
			}
			continue
		}
		// Free all but the first `hold` listeners.
		for i := hold; i < len(held); i++ {
			held[i].Close()
		}
		return base, func() {
			for i := 0; i < hold && i < len(held); i++ {
				held[i].Close()
			}
		}
	}
	t.Fatal("could not reserve a port run")
	return 0, nil
}

func TestBindListener_SkipsOccupiedPorts(t *testing.T) {
	base, release := reservePorts(t, 4, 2)
	defer release()

	ln, port, err := bindListener("127.0.0.1", base, base+3)
	if err != nil {
		t.Fatalf("bindListener: %v", err)
	}
	defer ln.Close()

	if port != base+2 {
		t.Errorf("port = %d, want %d (first two occupied)", port, base+2)
	}
}

func TestBindListener_NoFreePort(t *testing.T) {
	base, release := reservePorts(t, 2, 2)
	defer release()

	if _, _, err := bindListener("127.0.0.1", base, base+1); err == nil {
		t.Fatal("expected error with the whole range occupied")
	}
}

func TestSupervisor_NonBlockingStartup(t *testing.T) {
	base, release := reservePorts(t, 4, 1)
	defer release()

	sup, err := NewWithConfig(testConfig(t, base, base+3))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- sup.Serve(ctx) }()

	// /health must answer 200 well before ingestion or training settle.
	start := time.Now()
	var body struct {
		Status string `json:"status"`
		Port   int    `json:"port"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		port := sup.Port()
		if port != 0 {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
			if err == nil {
				if resp.StatusCode != http.StatusOK {
					t.Fatalf("health status = %d", resp.StatusCode)
				}
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatal(err)
				}
				resp.Body.Close()
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("health never answered within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("first health took %v", elapsed)
	}

	// The occupied first port was skipped.
	if body.Port == base {
		t.Errorf("bound the occupied port %d", base)
	}
	if body.Port < base || body.Port > base+3 {
		t.Errorf("port %d outside range", body.Port)
	}
	if body.Status != "ok" && body.Status != "degraded" {
		t.Errorf("status = %q", body.Status)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(shutdownGrace + 2*time.Second):
		t.Error("Serve did not shut down")
	}
}

func TestSupervisor_RunsCacheSweep(t *testing.T) {
	base, release := reservePorts(t, 2, 0)
	defer release()

	cfg := testConfig(t, base, base+1)
	cfg.Ingest.CacheTTLS = 1 // sweep ticks every second
	sup, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer sup.Close()

	sup.Cache.Put("stale-league-page", []byte("body"), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Serve(ctx)

	// The entry is never read again; only the background sweep can
	// evict it.
	deadline := time.Now().Add(3 * time.Second)
	for sup.Cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cache Len = %d, expired entry never swept", sup.Cache.Len())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSupervisor_DiscoverySweepFindsBackend(t *testing.T) {
	base, release := reservePorts(t, 4, 1)
	defer release()

	sup, err := NewWithConfig(testConfig(t, base, base+3))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Serve(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sup.Port() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A frontend sweep over the range finds exactly the bound port.
	client := &http.Client{Timeout: 500 * time.Millisecond}
	found := 0
	for port := base; port <= base+3; port++ {
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			found++
			if port != sup.Port() {
				t.Errorf("health answered on %d, bound port is %d", port, sup.Port())
			}
		}
		resp.Body.Close()
	}
	if found != 1 {
		t.Errorf("sweep found %d healthy ports, want 1", found)
	}
}
