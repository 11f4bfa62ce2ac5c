package workers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/testutil"
	"salon-referral-system/workers"
)

func runsOf(t *testing.T, env *testutil.Env, processType string, status models.ProcessStatus) int64 {
	t.Helper()
	var n int64
	if err := env.DB.Model(&models.ProcessRun{}).
		Where("process_type = ? AND status = ?", processType, status).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCustomerSyncCreatesAndRefreshes(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	code := "ANA23456"
	seed := []models.Customer{
		{ID: "R1", GivenName: "Ana", PersonalCode: &code, ActivatedAsReferrer: true},
		{ID: "K1", GivenName: "Old", Email: "old@example.test"},
	}
	if err := env.DB.Create(&seed).Error; err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	env.Square.Customers["N1"] = services.SquareCustomer{ID: "N1", GivenName: "Nina", EmailAddress: "nina@example.test", UpdatedAt: now}
	env.Square.Customers["K1"] = services.SquareCustomer{ID: "K1", GivenName: "Kim", EmailAddress: "kim@example.test", UpdatedAt: now}
	env.Square.Attributes["N1:referral_code"] = " ana23456 "

	w := workers.NewCustomerSyncWorker(env.DB, env.Square, env.Referrals, time.Minute, env.Log)
	w.RunOnce(ctx)

	var created models.Customer
	if err := env.DB.First(&created, "id = ?", "N1").Error; err != nil {
		t.Fatalf("unknown customer not created: %v", err)
	}
	if created.UsedReferralCode != code {
		t.Fatalf("used code = %q, want %q", created.UsedReferralCode, code)
	}
	if created.FirstPaymentCompleted || created.GotSignupBonus {
		t.Fatal("sync must not touch payment state")
	}

	var known models.Customer
	if err := env.DB.First(&known, "id = ?", "K1").Error; err != nil {
		t.Fatal(err)
	}
	if known.GivenName != "Kim" || known.Email != "kim@example.test" {
		t.Fatalf("profile not refreshed: %+v", known)
	}
	if got := runsOf(t, env, models.ProcessTypeCustomerSync, models.ProcessStatusSucceeded); got != 1 {
		t.Fatalf("succeeded runs = %d, want 1", got)
	}

	env.Square.SetFailure("SearchCustomersUpdatedSince", services.ErrGatewayUnavailable)
	w.RunOnce(ctx)
	if got := runsOf(t, env, models.ProcessTypeCustomerSync, models.ProcessStatusFailed); got != 1 {
		t.Fatalf("failed runs = %d, want 1", got)
	}
}

func TestCustomerSyncStartDisabled(t *testing.T) {
	env := testutil.NewEnv(t)
	workers.NewCustomerSyncWorker(env.DB, env.Square, env.Referrals, 0, env.Log).Start(context.Background())
	if got := env.Square.Calls("SearchCustomersUpdatedSince"); got != 0 {
		t.Fatalf("disabled worker searched %d times", got)
	}
}

type fakeSyncer struct {
	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (f *fakeSyncer) SyncBalances(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return 3, nil
	}
	f.cancel()
	return 0, errors.New("square down")
}

func TestPollPassBalancesRecordsRuns(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncer := &fakeSyncer{cancel: cancel}

	done := make(chan struct{})
	go func() {
		workers.PollPassBalances(ctx, env.DB, syncer, 10*time.Millisecond, env.Log)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}

	if got := runsOf(t, env, models.ProcessTypeBalanceSync, models.ProcessStatusSucceeded); got != 1 {
		t.Fatalf("succeeded balance runs = %d, want 1", got)
	}
}

func TestPollPassBalancesDisabled(t *testing.T) {
	env := testutil.NewEnv(t)
	syncer := &fakeSyncer{cancel: func() {}}
	workers.PollPassBalances(context.Background(), env.DB, syncer, 0, env.Log)
	if syncer.calls != 0 {
		t.Fatalf("disabled poller synced %d times", syncer.calls)
	}
}
