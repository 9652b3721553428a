// Command rrldemo exercises rrl's public API against a synthetic
// attemptFn with a configurable failure/latency profile, printing periodic
// status snapshots. It requires no real downstream dependency.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rrl/internal/logx"
	"rrl/rrl"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		count       int
		failRate    float64
		minLatency  time.Duration
		maxLatency  time.Duration
		timeout     time.Duration
		threadPool  int
		rateLimit   string
		delayQueues int
	)

	cmd := &cobra.Command{
		Use:   "rrldemo",
		Short: "Submit synthetic requests through an rrl.Service and print status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := rrl.ParseRate(rateLimit)
			if err != nil {
				return err
			}
			cfg := rrl.DefaultConfig()
			cfg.ServiceName = "rrldemo"
			cfg.ThreadPoolSize = threadPool
			cfg.DelayQueueCount = delayQueues
			cfg.RateLimit = rate

			log := logx.New(logx.Config{Level: "info"})
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			attempt := func(ctx context.Context, input string, attemptNumber int) (string, error) {
				lat := minLatency
				if maxLatency > minLatency {
					lat += time.Duration(rng.Int63n(int64(maxLatency - minLatency)))
				}
				time.Sleep(lat)
				if rng.Float64() < failRate {
					return "", fmt.Errorf("synthetic failure for %s (attempt %d)", input, attemptNumber)
				}
				return "ok:" + input, nil
			}

			svc, err := rrl.New(cfg, attempt, rrl.WithLogger[string, string](log))
			if err != nil {
				return err
			}
			svc.Start()
			defer svc.Shutdown(5 * time.Second)

			futures := make([]*rrl.Entry[string, string], 0, count)
			for i := 0; i < count; i++ {
				entry, err := svc.SubmitFor(fmt.Sprintf("req-%d", i), timeout)
				if err != nil {
					if errors.Is(err, rrl.ErrTooManyPending) {
						fmt.Println("rejected: too many pending requests")
						continue
					}
					return err
				}
				futures = append(futures, entry)
			}

			stop := make(chan struct{})
			go printSnapshots(svc, stop)

			var succeeded, failed int
			for _, f := range futures {
				if _, err := f.Get(timeout + 5*time.Second); err != nil {
					failed++
				} else {
					succeeded++
				}
			}
			close(stop)

			fmt.Printf("done: %d succeeded, %d failed\n", succeeded, failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 20, "number of requests to submit")
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0.3, "probability an attempt fails")
	cmd.Flags().DurationVar(&minLatency, "min-latency", 10*time.Millisecond, "minimum attempt latency")
	cmd.Flags().DurationVar(&maxLatency, "max-latency", 50*time.Millisecond, "maximum attempt latency")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-request validUntil timeout")
	cmd.Flags().IntVar(&threadPool, "threads", 4, "executor pool size")
	cmd.Flags().StringVar(&rateLimit, "rate", "50/s", "ticket bucket rate, e.g. 50/s")
	cmd.Flags().IntVar(&delayQueues, "delay-queues", 2, "number of delay queues")

	return cmd
}

func printSnapshots(svc *rrl.Service[string, string], stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := svc.GetStatus(0)
			fmt.Printf("main=%d delay=%v workers=%d/%d succeeded=%d failed=%d timedout=%d\n",
				snap.MainQueueDepth, snap.DelayQueueDepths, snap.ActiveWorkers, snap.WorkerPoolSize,
				snap.TotalSucceeded, snap.TotalFailedTerminal, snap.TotalTimedOut)
		}
	}
}
