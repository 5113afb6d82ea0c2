package leader_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/leader"
)

// TestRun_AcquiresLeadership runs an election against a fake clientset: a
// single candidate must acquire the lease and invoke its callbacks.
func TestRun_AcquiresLeadership(t *testing.T) {
	orig := leader.ClientFactory
	leader.ClientFactory = func() (kubernetes.Interface, error) {
		return fake.NewSimpleClientset(), nil
	}
	t.Cleanup(func() { leader.ClientFactory = orig })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var started, stopped atomic.Bool
	cfg := config.LeaderElectionConfig{
		Enabled:        true,
		LeaseName:      "auctiond-test",
		LeaseNamespace: "default",
		LeaseDuration:  2 * time.Second,
		RenewDeadline:  1 * time.Second,
		RetryPeriod:    200 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() {
		done <- leader.Run(ctx, cfg, slog.Default(),
			func(leadCtx context.Context) {
				started.Store(true)
				cancel()
				<-leadCtx.Done()
			},
			func() { stopped.Store(true) },
		)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("leader.Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("election did not finish")
	}

	if !started.Load() {
		t.Error("expected OnStartedLeading to run")
	}
	if !stopped.Load() {
		t.Error("expected OnStoppedLeading to run after cancel")
	}
}
