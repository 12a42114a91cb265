package engine

import (
	"testing"

	"github.com/mixdao/mixd/internal/feemodel"
	"github.com/mixdao/mixd/pkg/models"
)

func testEngine() *Engine {
	return &Engine{
		Tiers: feemodel.Tiers(3, 1, 5, 2, 8, 3),
		workers: make(map[string]Role),
	}
}

func TestClaimReleaseExclusivity(t *testing.T) {
	e := testEngine()
	if !e.claim("job1", RoleDepositMonitor) {
		t.Fatal("expected first claim to succeed")
	}
	if e.claim("job1", RoleConfirmWatcher) {
		t.Fatal("expected second claim on the same job to fail while the first is running")
	}
	role, busy := e.runningRole("job1")
	if !busy || role != RoleDepositMonitor {
		t.Fatalf("runningRole = (%v, %v), want (%v, true)", role, busy, RoleDepositMonitor)
	}

	e.release("job1")
	if _, busy := e.runningRole("job1"); busy {
		t.Fatal("expected job to be free after release")
	}
	if !e.claim("job1", RoleShardWorker) {
		t.Fatal("expected claim to succeed again after release")
	}
}

func TestResolveTierDefaultsToStandard(t *testing.T) {
	e := testEngine()
	shards, hops := e.resolveTier(0, -1)
	if shards != 3 || hops != 1 {
		t.Errorf("resolveTier(0,-1) = (%d,%d), want (3,1) [standard tier]", shards, hops)
	}
}

func TestResolveTierExplicitWins(t *testing.T) {
	e := testEngine()
	shards, hops := e.resolveTier(5, 2)
	if shards != 5 || hops != 2 {
		t.Errorf("resolveTier(5,2) = (%d,%d), want (5,2)", shards, hops)
	}
}

func TestResolveTierPartialExplicit(t *testing.T) {
	e := testEngine()
	// Explicit shard count with no hop count falls back to the
	// standard tier's hop count while keeping the caller's shards.
	shards, hops := e.resolveTier(5, -1)
	if shards != 5 || hops != 1 {
		t.Errorf("resolveTier(5,-1) = (%d,%d), want (5,1)", shards, hops)
	}
}

func TestWorkerForStateMap(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
		want Role
	}{
		{"waiting deposit no txid", &models.Job{Status: models.StatusWaitingDeposit}, RoleDepositMonitor},
		{"waiting deposit with txid1", &models.Job{Status: models.StatusWaitingDeposit, Txid1: "t1"}, RoleConfirmWatcher},
		{"deposit received", &models.Job{Status: models.StatusDepositReceived}, RoleDepositMonitor},
		{"waiting confirmations", &models.Job{Status: models.StatusWaitingConfirmations, Txid1: "t1"}, RoleConfirmWatcher},
		{"mixing step2 with fanout", &models.Job{Status: models.StatusMixingStep2, ShardTxidsFanout: []string{"a"}}, RoleShardWorker},
		{"mixing step2 no fanout yet", &models.Job{Status: models.StatusMixingStep2}, Role("")},
		{"error with fanout", &models.Job{Status: models.StatusError, ShardTxidsFanout: []string{"a"}}, RoleShardWorker},
		{"error with txid1 only", &models.Job{Status: models.StatusError, Txid1: "t1"}, RoleConfirmWatcher},
		{"error with nothing", &models.Job{Status: models.StatusError}, RoleDepositMonitor},
		{"completed", &models.Job{Status: models.StatusCompleted}, Role("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := workerFor(tt.job); got != tt.want {
				t.Errorf("workerFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
