package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/blacklist"
	"github.com/codefionn/sperrgut/sperrgut-srv/cache"
	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/proxy"
	"github.com/codefionn/sperrgut/sperrgut-srv/stats"
)

// statsTimeout bounds health checks and overview queries against the
// statistics backend.
const statsTimeout = 5 * time.Second

// instance is one proxy server with everything it was built from.
type instance struct {
	cfg     *config.Config
	matcher *blacklist.Matcher
	cache   *cache.LRU
	server  *proxy.Server
	// collector is nil once a newer instance took it over.
	collector stats.Collector
	done      chan struct{}
}

// newInstance builds the dependencies for cfg without serving yet. Parts of
// prev the new config leaves alone are carried over: the response cache
// (resized when cache_capacity changed) and the statistics collector.
func newInstance(cfg *config.Config, entries []string, prev *instance) (*instance, error) {
	matcher := blacklist.New(entries)
	logger.Logf(logger.SystemSource, "Blacklist loaded: %d domains.", matcher.Len())

	var responses *cache.LRU
	switch {
	case prev == nil:
		responses = cache.NewLRU(cfg.CacheCapacity)
	case prev.cache.Capacity() == cfg.CacheCapacity:
		responses = prev.cache
	default:
		responses = prev.cache.Resize(cfg.CacheCapacity)
	}

	collector := stats.Collector(nil)
	reused := prev != nil && prev.collector != nil && prev.cfg.Statistics == cfg.Statistics
	if reused {
		collector = prev.collector
	} else {
		var err error
		collector, err = stats.NewCollector(cfg.Statistics)
		if err != nil {
			return nil, fmt.Errorf("failed to create statistics collector: %w", err)
		}
	}
	release := func() {
		if !reused {
			closeCollector(collector)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	err := collector.HealthCheck(ctx)
	cancel()
	if err != nil {
		release()
		return nil, fmt.Errorf("statistics backend is not healthy: %w", err)
	}

	server, err := proxy.NewServer(proxy.Dependencies{
		Config:    cfg,
		Cache:     responses,
		Blacklist: matcher,
		Collector: collector,
	})
	if err != nil {
		release()
		return nil, err
	}

	if reused {
		prev.collector = nil
	}
	return &instance{
		cfg:       cfg,
		matcher:   matcher,
		cache:     responses,
		server:    server,
		collector: collector,
		done:      make(chan struct{}),
	}, nil
}

// serve runs the server in the background, on ln when given and on the
// configured address otherwise.
func (i *instance) serve(ln net.Listener) {
	go func() {
		defer close(i.done)
		var err error
		if ln != nil {
			err = i.server.StartWithListener(ln)
		} else {
			err = i.server.Start()
		}
		if err != nil {
			logger.Fatal("Proxy server error: %v", err)
		}
	}()

	logger.Logf(logger.SystemSource, "Listening on port %d (cache capacity %d)", i.cfg.Port, i.cfg.CacheCapacity)
}

// stop closes the listener unless it was handed over, drains in-flight
// connections and releases the collector if this instance still owns it.
func (i *instance) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := i.server.Stop(ctx); err != nil {
		logger.Error("Error stopping proxy server: %v", err)
	}
	<-i.done
	if i.collector != nil {
		closeCollector(i.collector)
	}
}

// logStats writes the cache counters and the collector overview to the
// access log.
func (i *instance) logStats() {
	cs := i.cache.Stats()
	logger.Logf(logger.SystemSource, "Cache: %d/%d entries, %d hits, %d misses, %d evictions, %d rejected",
		cs.Entries, cs.Capacity, cs.Hits, cs.Misses, cs.Evictions, cs.Rejected)

	if i.collector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	overview, err := i.collector.GetOverviewStats(ctx)
	if err != nil {
		logger.Warn("Failed to read statistics: %v", err)
		return
	}
	logger.Logf(logger.SystemSource,
		"Connections: %d total, %d active; requests: %d (%d from cache), %d blocked, %d allowed, %d errors; bytes in/out: %d/%d; uptime %s",
		overview.TotalConnections, overview.ActiveConnections, overview.TotalRequests, overview.CacheHits,
		overview.BlockedRequests, overview.AllowedRequests, overview.TotalErrors,
		overview.TotalBytesIn, overview.TotalBytesOut, overview.Uptime)
}

// replace puts next in service in place of current. On the same address
// next takes over current's listener, so no connection is refused while
// current drains in the background.
func replace(current, next *instance, retired *sync.WaitGroup) {
	switch {
	case next.cfg.Port != current.cfg.Port:
		next.serve(nil)
		retire(current, retired)
	case next.cfg.Addr() == current.cfg.Addr():
		ln, err := current.server.Handoff()
		if err == nil {
			next.serve(ln)
			retire(current, retired)
			return
		}
		logger.Warn("Could not hand over listener: %v; rebinding", err)
		fallthrough
	default:
		// Same port on another address: the old socket must go first.
		current.stop()
		next.serve(nil)
	}
}

// retire drains inst in the background.
func retire(inst *instance, retired *sync.WaitGroup) {
	retired.Add(1)
	go func() {
		defer retired.Done()
		inst.stop()
	}()
}

func closeCollector(c stats.Collector) {
	if err := c.Close(); err != nil {
		logger.Error("Error closing statistics collector: %v", err)
	}
}
