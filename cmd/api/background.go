package main

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/triage-engine/internal/app/bootstrap"
	"github.com/wolfman30/triage-engine/internal/conversation"
	httpmiddleware "github.com/wolfman30/triage-engine/internal/http/middleware"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

const limiterEvictInterval = 5 * time.Minute

// background tracks the goroutines the API process runs next to the server.
type background struct {
	wg     sync.WaitGroup
	worker *conversation.Worker
}

// startBackground runs the outbox deliverer and, for local development with
// the memory queue, an in-process turn worker. Everything stops with ctx.
func startBackground(ctx context.Context, rt *bootstrap.Runtime, limiter *httpmiddleware.RateLimiter) *background {
	bg := &background{}

	if rt.Deliverer != nil {
		bg.wg.Add(1)
		go func() {
			defer bg.wg.Done()
			rt.Deliverer.Start(ctx)
		}()
	}

	if rt.Config.UseMemoryQueue && rt.Queue != nil {
		worker, err := rt.NewWorker()
		if err != nil {
			rt.Logger.Error("in-process worker unavailable", "error", err)
		} else {
			worker.Start(ctx)
			bg.worker = worker
			rt.Logger.Info("in-process turn worker started")
		}
	}

	if limiter != nil {
		bg.wg.Add(1)
		go func() {
			defer bg.wg.Done()
			ticker := time.NewTicker(limiterEvictInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := limiter.Evict(); n > 0 {
						rt.Logger.Debug("evicted idle rate limiters", "count", n)
					}
				}
			}
		}()
	}
	return bg
}

func (bg *background) wait(ctx context.Context, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		bg.wg.Wait()
		if bg.worker != nil {
			bg.worker.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Error("background shutdown timed out", "error", ctx.Err())
	}
}
