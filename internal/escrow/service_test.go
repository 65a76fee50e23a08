package escrow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow/store"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeCustody executes each reference once, like the settlement worker.
// fail refuses a release outright; lost executes it and still reports err,
// as when the caller gives up after the command was accepted.
type fakeCustody struct {
	mu         sync.Mutex
	fail       error
	lost       error
	payouts    []model.Payout
	references []string
	attempts   int
}

func (f *fakeCustody) Release(_ context.Context, _ string, reference string, payout model.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail != nil {
		return f.fail
	}
	for _, seen := range f.references {
		if seen == reference {
			return f.lost
		}
	}
	f.payouts = append(f.payouts, payout)
	f.references = append(f.references, reference)
	return f.lost
}

func (f *fakeCustody) released() []model.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Payout{}, f.payouts...)
}

func (f *fakeCustody) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.references...)
}

func (f *fakeCustody) setFailure(fail, lost error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
	f.lost = lost
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeCustody) {
	t.Helper()
	custody := &fakeCustody{}
	s, err := NewService(testConfig(), store.NewMemoryStore(), custody, opts...)
	require.NoError(t, err)
	return s, custody
}

func invoke(t *testing.T, s *Service, inv Invocation) *Receipt {
	t.Helper()
	receipt, err := s.Invoke(context.Background(), inv)
	require.NoError(t, err)
	return receipt
}

func createInvocation(session string, wager uint64) Invocation {
	return Invocation{
		Session:   session,
		Operation: "create",
		Args:      [][]byte{EncodeUint(wager), []byte("g1")},
		Transfers: pay(alice, wager),
		Caller:    alice,
	}
}

func joinInvocation(session string, wager uint64) Invocation {
	return Invocation{
		Session:   session,
		Operation: "join",
		Args:      [][]byte{[]byte("join")},
		Transfers: pay(bob, wager),
		Caller:    bob,
	}
}

func TestServiceFullGame(t *testing.T) {
	notifier := &recordingNotifier{}
	s, custody := newTestService(t, WithNotifier(notifier))
	ctx := context.Background()

	invoke(t, s, createInvocation("s1", 1_000_000))
	receipt := invoke(t, s, joinInvocation("s1", 1_000_000))
	require.Equal(t, model.EscrowActive, receipt.Record.Status)

	invoke(t, s, Invocation{
		Session:   "s1",
		Operation: "declare_winner",
		Args:      [][]byte{[]byte("declare_winner"), []byte(alice)},
		Caller:    reporter,
		Timestamp: 50,
	})

	receipt = invoke(t, s, Invocation{Session: "s1", Operation: "claim", Caller: alice, Timestamp: 60})
	require.Equal(t, OpClaim, receipt.Operation)
	require.Equal(t, &model.Payout{Receiver: alice, Amount: 1_999_000, Reason: model.PayoutClaim}, receipt.Payout)

	_, err := s.Invoke(ctx, Invocation{Session: "s1", Operation: "claim", Caller: alice, Timestamp: 70})
	requireKind(t, err, ErrAlreadyPaid)
	require.Len(t, custody.released(), 1)

	rec, err := s.Record(ctx, "s1")
	require.NoError(t, err)
	require.True(t, rec.Paid)
	require.Equal(t, alice, rec.Winner)

	require.Len(t, notifier.events, 4)
	require.Equal(t, "claim", notifier.events[3].Operation)
	require.Equal(t, eventTypeCommitted, notifier.events[3].Type)
	require.NotEmpty(t, notifier.events[3].Id)
	require.NotNil(t, notifier.events[3].Payout)

	invoke(t, s, Invocation{Session: "s1", Operation: "teardown", Caller: alice})
	_, err = s.Record(ctx, "s1")
	require.True(t, errors.Is(err, store.ErrRecordNotFound))
}

func TestServiceSessionsAreIndependent(t *testing.T) {
	s, _ := newTestService(t)
	invoke(t, s, createInvocation("s1", 5000))
	invoke(t, s, createInvocation("s2", 7000))
	invoke(t, s, joinInvocation("s2", 7000))

	one, err := s.Record(context.Background(), "s1")
	require.NoError(t, err)
	two, err := s.Record(context.Background(), "s2")
	require.NoError(t, err)
	require.Equal(t, model.EscrowWaiting, one.Status)
	require.Equal(t, model.EscrowActive, two.Status)
}

func TestServiceRejectionKeepsStoredRecord(t *testing.T) {
	s, custody := newTestService(t)
	invoke(t, s, createInvocation("s1", 5000))
	before, err := s.Record(context.Background(), "s1")
	require.NoError(t, err)

	_, err = s.Invoke(context.Background(), Invocation{Session: "s1", Operation: "join", Transfers: pay(bob, 4999), Caller: bob})
	requireKind(t, err, ErrPaymentMismatch)
	_, err = s.Invoke(context.Background(), Invocation{Session: "s1", Operation: "cancel", Caller: alice, Timestamp: 3600})
	requireKind(t, err, ErrTimeoutNotElapsed)
	_, err = s.Invoke(context.Background(), Invocation{Session: "", Operation: "claim", Caller: alice})
	requireKind(t, err, ErrInvalidArgument)
	_, err = s.Invoke(context.Background(), Invocation{Session: "s1", Operation: "bogus", Caller: alice})
	requireKind(t, err, ErrUnknownOperation)

	after, err := s.Record(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Empty(t, custody.released())
}

func TestServiceCustodyFailureKeepsPayoutPending(t *testing.T) {
	s, custody := newTestService(t)
	ctx := context.Background()
	invoke(t, s, createInvocation("s1", 500_000))

	custody.setFailure(errors.New("custody unavailable"), nil)
	receipt, err := s.Invoke(ctx, Invocation{Session: "s1", Operation: "cancel", Caller: alice, Timestamp: 3601})
	require.True(t, errors.Is(err, ErrReleasePending))
	require.False(t, IsRejection(err))
	require.NotNil(t, receipt)
	require.Equal(t, uint64(499_000), receipt.Payout.Amount)

	rec, err := s.Record(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, model.EscrowCancelled, rec.Status)
	require.True(t, rec.Paid)
	require.True(t, rec.PendingRelease())

	_, err = s.Invoke(ctx, Invocation{Session: "s1", Operation: "teardown", Caller: alice})
	require.Error(t, err)
	require.False(t, IsRejection(err))

	custody.setFailure(nil, nil)
	_, err = s.Invoke(ctx, Invocation{Session: "s1", Operation: "cancel", Caller: alice, Timestamp: 3602})
	requireKind(t, err, ErrStateMismatch)
	require.Equal(t, []model.Payout{{Receiver: alice, Amount: 499_000, Reason: model.PayoutRefund}}, custody.released())

	rec, err = s.Record(ctx, "s1")
	require.NoError(t, err)
	require.True(t, rec.Released)
	invoke(t, s, Invocation{Session: "s1", Operation: "teardown", Caller: alice})
}

func TestServiceAmbiguousReleaseNeverPaysTwice(t *testing.T) {
	tests := []struct {
		name string
		lost error
	}{
		{"cancelled caller", context.Canceled},
		{"deadline", context.DeadlineExceeded},
		{"publish error", errors.New("pubsub: connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, custody := newTestService(t)
			ctx := context.Background()
			invoke(t, s, createInvocation("s1", 500_000))
			invoke(t, s, joinInvocation("s1", 500_000))

			custody.setFailure(nil, tt.lost)
			_, err := s.Invoke(ctx, Invocation{Session: "s1", Operation: "timeout_claim", Caller: bob, Timestamp: 259201})
			require.True(t, errors.Is(err, ErrReleasePending))

			custody.setFailure(nil, nil)
			_, err = s.Invoke(ctx, Invocation{
				Session:   "s1",
				Operation: "declare_winner",
				Args:      [][]byte{[]byte("declare_winner"), []byte(alice)},
				Caller:    reporter,
				Timestamp: 259202,
			})
			requireKind(t, err, ErrStateMismatch)
			_, err = s.Invoke(ctx, Invocation{Session: "s1", Operation: "claim", Caller: alice, Timestamp: 259203})
			requireKind(t, err, ErrUnauthorized)

			require.Equal(t, []model.Payout{{Receiver: bob, Amount: 999_000, Reason: model.PayoutTimeoutClaim}}, custody.released())
			require.Len(t, custody.executed(), 1)
			require.GreaterOrEqual(t, custody.attempts, 2)

			rec, err := s.Record(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, bob, rec.Winner)
			require.True(t, rec.Released)
		})
	}
}

func TestServiceReleaseIgnoresCallerCancellation(t *testing.T) {
	s, custody := newTestService(t)
	invoke(t, s, createInvocation("s1", 5000))
	invoke(t, s, joinInvocation("s1", 5000))
	invoke(t, s, Invocation{
		Session:   "s1",
		Operation: "declare_winner",
		Args:      [][]byte{[]byte("declare_winner"), []byte(bob)},
		Caller:    reporter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.custody = custodyFunc(func(releaseCtx context.Context, session, reference string, payout model.Payout) error {
		cancel()
		if err := releaseCtx.Err(); err != nil {
			return err
		}
		return custody.Release(releaseCtx, session, reference, payout)
	})

	_, err := s.Invoke(ctx, Invocation{Session: "s1", Operation: "claim", Caller: bob})
	require.NoError(t, err)
	require.Len(t, custody.released(), 1)
}

type custodyFunc func(ctx context.Context, session, reference string, payout model.Payout) error

func (f custodyFunc) Release(ctx context.Context, session, reference string, payout model.Payout) error {
	return f(ctx, session, reference, payout)
}

func TestServiceReferencesAreUniquePerRecord(t *testing.T) {
	s, custody := newTestService(t)
	for round := 0; round < 2; round++ {
		invoke(t, s, createInvocation("s1", 5000))
		invoke(t, s, Invocation{Session: "s1", Operation: "cancel", Caller: alice, Timestamp: 3601})
		invoke(t, s, Invocation{Session: "s1", Operation: "teardown", Caller: alice})
	}

	references := custody.executed()
	require.Len(t, references, 2)
	require.NotEqual(t, references[0], references[1])
	for _, ref := range references {
		require.True(t, strings.HasPrefix(ref, "escrow/s1/"), ref)
		require.True(t, strings.HasSuffix(ref, "/REFUND"), ref)
	}
	require.Len(t, custody.released(), 2)
}

// interleavingStore runs between once, right after the first load, standing
// in for another replica writing the same session.
type interleavingStore struct {
	store.Store
	once    sync.Once
	between func()
}

func (i *interleavingStore) Load(ctx context.Context, session string) (*model.EscrowRecord, error) {
	rec, err := i.Store.Load(ctx, session)
	i.once.Do(i.between)
	return rec, err
}

func TestServiceStaleWriterConflicts(t *testing.T) {
	shared := store.NewMemoryStore()
	first, err := NewService(testConfig(), shared, &fakeCustody{})
	require.NoError(t, err)
	invoke(t, first, createInvocation("s1", 5000))

	racing := &interleavingStore{Store: shared}
	racing.between = func() {
		invoke(t, first, Invocation{Session: "s1", Operation: "cancel", Caller: alice, Timestamp: 3601})
	}
	second, err := NewService(testConfig(), racing, &fakeCustody{})
	require.NoError(t, err)

	_, err = second.Invoke(context.Background(), joinInvocation("s1", 5000))
	require.True(t, errors.Is(err, store.ErrVersionConflict), "got %v", err)
	require.False(t, IsRejection(err))

	rec, err := shared.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.EscrowCancelled, rec.Status)
	require.True(t, rec.Player2.IsNone())
}

func TestServiceConcurrentClaimsPayOnce(t *testing.T) {
	s, custody := newTestService(t)
	invoke(t, s, createInvocation("s1", 5000))
	invoke(t, s, joinInvocation("s1", 5000))
	invoke(t, s, Invocation{
		Session:   "s1",
		Operation: "declare_winner",
		Args:      [][]byte{[]byte("declare_winner"), []byte(bob)},
		Caller:    reporter,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Invoke(context.Background(), Invocation{Session: "s1", Operation: "claim", Caller: bob})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Len(t, custody.released(), 1)
	require.Empty(t, s.locks)
}

func TestServiceDropsIdleLocks(t *testing.T) {
	s, _ := newTestService(t)
	for i := 0; i < 50; i++ {
		session := fmt.Sprintf("s%d", i)
		invoke(t, s, createInvocation(session, 5000))
		_, err := s.Invoke(context.Background(), joinInvocation(session, 1))
		requireKind(t, err, ErrPaymentMismatch)
	}
	require.Empty(t, s.locks)
}

// gatedNotifier holds its first notification until released.
type gatedNotifier struct {
	mu      sync.Mutex
	held    bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Notify(string, Event) {
	g.mu.Lock()
	first := !g.held
	g.held = true
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
	}
}

func TestServiceNotifiesOutsideSessionLock(t *testing.T) {
	notifier := &gatedNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	s, _ := newTestService(t, WithNotifier(notifier))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Invoke(context.Background(), createInvocation("s1", 5000))
	}()
	<-notifier.entered

	receipt, err := s.Invoke(context.Background(), joinInvocation("s1", 5000))
	require.NoError(t, err)
	require.Equal(t, model.EscrowActive, receipt.Record.Status)

	close(notifier.release)
	<-done
}

func TestServiceNormalizesIdentities(t *testing.T) {
	lower := func(id model.Identity) (model.Identity, error) {
		if strings.Contains(string(id), " ") {
			return "", errors.New("malformed identity")
		}
		return model.Identity(strings.ToLower(string(id))), nil
	}
	s, _ := newTestService(t, WithIdentityNormalizer(lower))

	inv := createInvocation("s1", 5000)
	inv.Caller = "ALICE"
	inv.Transfers = []model.Transfer{{Kind: model.TransferPayment, Sender: "Alice", Receiver: "CUSTODY", Amount: 5000}}
	receipt := invoke(t, s, inv)
	require.Equal(t, alice, receipt.Record.Player1)
	require.True(t, receipt.Record.Funded)

	_, err := s.Invoke(context.Background(), Invocation{Session: "s1", Operation: "join", Caller: "b ob"})
	requireKind(t, err, ErrInvalidArgument)
}

func TestNewServiceRejectsIncompleteConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Custody = model.NoIdentity
	_, err := NewService(cfg, store.NewMemoryStore(), &fakeCustody{})
	requireKind(t, err, ErrConfiguration)
}

type failingStore struct {
	store.Store
}

func (failingStore) Load(context.Context, string) (*model.EscrowRecord, error) {
	return nil, errors.New("connection refused")
}

func TestServiceStoreFailureIsNotRejection(t *testing.T) {
	s, err := NewService(testConfig(), failingStore{}, &fakeCustody{})
	require.NoError(t, err)

	_, err = s.Invoke(context.Background(), createInvocation("s1", 5000))
	require.Error(t, err)
	require.False(t, IsRejection(err))
}
