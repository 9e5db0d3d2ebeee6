// Command throughput-test measures CONNECT tunnel throughput of an in-process
// proxy against a local TLS origin.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/blacklist"
	"github.com/codefionn/sperrgut/sperrgut-srv/cache"
	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/proxy"
	"github.com/codefionn/sperrgut/sperrgut-srv/stats"
)

var (
	numRequests = flag.Int("numRequests", 100, "Total number of requests to send")
	concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
	testTimeout = flag.Duration("timeout", 30*time.Second, "Overall test timeout")
	dataSize    = flag.Int("dataSize", 1024*1024, "Size of payload in bytes per request")
	bufferSize  = flag.Int("bufferSize", config.DefaultBufferSize, "Proxy relay buffer size in bytes")
)

type result struct {
	bytes int64
	err   error
}

func dataHandler(buf []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data" {
			http.NotFound(w, r)
			return
		}
		if _, err := w.Write(buf); err != nil {
			logger.Error("failed to write data: %v", err)
		}
	}
}

func sendRequest(ctx context.Context, client *http.Client, targetURL string) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, http.NoBody)
	if err != nil {
		return result{0, fmt.Errorf("new request: %w", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return result{0, fmt.Errorf("do request: %w", err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Error closing response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return result{0, fmt.Errorf("status %d", resp.StatusCode)}
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return result{n, fmt.Errorf("read body: %w", err)}
	}
	if n != int64(*dataSize) {
		return result{n, fmt.Errorf("read %d bytes, want %d", n, *dataSize)}
	}
	return result{n, nil}
}

// startProxy runs a proxy with an empty blacklist on a loopback port.
func startProxy() (*proxy.Server, net.Listener, error) {
	cfg := config.DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	cfg.BufferSize = *bufferSize
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	srv, err := proxy.NewServer(proxy.Dependencies{
		Config:    cfg,
		Cache:     cache.NewLRU(cfg.CacheCapacity),
		Blacklist: blacklist.New(nil),
		Collector: stats.NewMemoryCollector(),
	})
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := srv.StartWithListener(ln); err != nil {
			logger.Error("Proxy server error: %v", err)
		}
	}()
	return srv, ln, nil
}

func main() {
	flag.Parse()
	logger.SetLevel(logger.ERROR)
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), *testTimeout)
	defer cancel()

	buf := make([]byte, *dataSize)
	for i := range buf {
		buf[i] = 'a'
	}

	origin := httptest.NewTLSServer(dataHandler(buf))
	defer origin.Close()

	srv, proxyLn, err := startProxy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start proxy: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := srv.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Proxy did not drain: %v\n", err)
		}
	}()

	// Every request opens its own tunnel: the proxy serves one request per
	// client connection.
	proxyURL, _ := url.Parse("http://" + proxyLn.Addr().String())
	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		TLSClientConfig:   &tls.Config{RootCAs: origin.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs},
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	targetURL := origin.URL + "/data"

	jobs := make(chan struct{})
	results := make(chan result, *numRequests)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- sendRequest(ctx, client, targetURL)
			}
		}()
	}
	for i := 0; i < *numRequests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	close(results)

	success, failures, total := 0, 0, int64(0)
	var firstErr error
	for res := range results {
		if res.err != nil {
			failures++
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		success++
		total += res.bytes
	}
	dur := time.Since(start)
	rps := float64(success) / dur.Seconds()
	mbps := float64(total) / dur.Seconds() / 1024 / 1024

	fmt.Printf("Duration: %.2f s, Success: %d, Errors: %d\n", dur.Seconds(), success, failures)
	fmt.Printf("RPS: %.2f, Throughput: %.2f MB/s\n", rps, mbps)

	if failures > 0 || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "Test failed: %v\n", firstErr)
		os.Exit(1)
	}
}
