// Package worker is the campaign dispatcher: a poll loop that claims due
// campaigns and drains their pending recipients through the vendor gateway.
package worker

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/metrics"
	"github.com/tigasatu/wa-inbox/internal/provider"
	"golang.org/x/time/rate"
)

type Options struct {
	BatchSize    int           // how many campaigns to claim per poll
	Concurrency  int           // number of dispatcher goroutines
	PollInterval time.Duration // how often to poll when work is found
	IdleSleep    time.Duration // sleep when queue empty
	DBBackoffMin time.Duration
	DBBackoffMax time.Duration
	VendorQPS    float64       // sustained vendor rate across all campaigns
	VendorBurst  int           // burst to allow short spikes
	SendTimeout  time.Duration // per-recipient timeout
}

func RunDispatcher(ctx context.Context, store *core.Store, gw provider.Gateway, opt Options) error {
	// Rate limiter for the vendor (global for this worker process).
	limiter := rate.NewLimiter(rate.Limit(opt.VendorQPS), opt.VendorBurst)

	// Fixed-size dispatcher pool.
	jobs := make(chan string, opt.BatchSize*2)
	var wg sync.WaitGroup
	wg.Add(opt.Concurrency)
	for i := 0; i < opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-jobs:
					if err := runOne(ctx, store, gw, limiter, id, opt.SendTimeout); err != nil {
						log.Printf("campaign %s: %v", id, err)
					}
				}
			}
		}()
	}

	// Poll loop: claim due campaigns and dispatch.
	dbBackoff := opt.DBBackoffMin
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		default:
		}

		ids, err := store.ClaimDueCampaigns(ctx, opt.BatchSize)
		if err != nil {
			// Backoff on DB errors (exponential + jitter)
			sleep := jitter(dbBackoff, 0.20)
			log.Printf("claim error: %v; backing off %s", err, sleep)
			time.Sleep(sleep)
			dbBackoff = minDur(opt.DBBackoffMax, time.Duration(float64(dbBackoff)*1.6))
			metrics.CampaignClaimTotal.WithLabelValues("error").Inc()
			continue
		}
		dbBackoff = opt.DBBackoffMin // reset on success

		if len(ids) == 0 {
			metrics.CampaignClaimTotal.WithLabelValues("empty").Inc()
			time.Sleep(opt.IdleSleep)
			continue
		}
		metrics.CampaignClaimTotal.WithLabelValues("ok").Inc()

		// Dispatch to the pool without unbounded goroutines
		for _, id := range ids {
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			case jobs <- id:
			}
		}

		// short cadence while there is flow
		time.Sleep(opt.PollInterval)
	}
}

func runOne(ctx context.Context, store *core.Store, gw provider.Gateway, limiter *rate.Limiter, campaignID string, sendTimeout time.Duration) error {
	camp, err := store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	return Drain(ctx, store, gw, camp, limiter, sendTimeout)
}

// Drain works through a campaign's pending recipients one by one. Each
// recipient's outcome is persisted before the next send, so an interrupted
// run resumes where it stopped instead of re-sending. A canceled context
// stops between recipients and leaves the campaign resumable.
func Drain(ctx context.Context, store *core.Store, gw provider.Gateway, camp core.Campaign, limiter *rate.Limiter, sendTimeout time.Duration) error {
	account, err := store.GetAccount(ctx, camp.AccountID)
	if err != nil {
		return err
	}

	logs, err := store.ListPendingLogs(ctx, camp.ID)
	if err != nil {
		return err
	}

	for _, l := range logs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !account.IsActive() {
			// The account went dark mid-campaign: fail the remaining rows
			// instead of hammering the vendor with doomed sends.
			if err := store.MarkLogFailed(ctx, l.ID, core.ErrAccountInactive.Error()); err != nil {
				return err
			}
			metrics.CampaignRecipients.WithLabelValues("failed").Inc()
			continue
		}

		// Respect the vendor rate limit (global in this process).
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := gw.Send(cctx, account, l.PhoneNumber, camp.MessageTemplate)
		cancel()
		if err != nil {
			if merr := store.MarkLogFailed(ctx, l.ID, err.Error()); merr != nil {
				return merr
			}
			metrics.CampaignRecipients.WithLabelValues("failed").Inc()
			continue
		}
		if err := store.MarkLogSent(ctx, l.ID); err != nil {
			return err
		}
		metrics.CampaignRecipients.WithLabelValues("sent").Inc()
	}

	done, err := store.CompleteCampaignIfDrained(ctx, camp.ID)
	if err != nil {
		return err
	}
	if done {
		log.Printf("campaign %s completed", camp.ID)
	}
	return nil
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(n)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
