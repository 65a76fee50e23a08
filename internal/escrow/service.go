package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow/store"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Custody executes outbound transfers decided by the escrow. Reference is
// unique per record and payout; custody must execute a reference at most
// once, so a release may be retried after an ambiguous failure.
type Custody interface {
	Release(ctx context.Context, session string, reference string, payout model.Payout) error
}

// Notifier is told about every committed transition.
type Notifier interface {
	Notify(session string, event Event)
}

// Invocation is one operation request as delivered by the environment, which
// has already authenticated Caller and verified Transfers.
type Invocation struct {
	Session   string           `json:"sessionId"`
	Operation string           `json:"operation"`
	Args      [][]byte         `json:"args"`
	Transfers []model.Transfer `json:"transfers"`
	Caller    model.Identity   `json:"caller"`
	Timestamp int64            `json:"timestamp"`
}

type Receipt struct {
	Session   string              `json:"sessionId"`
	Operation OpKind              `json:"-"`
	Record    *model.EscrowRecord `json:"record,omitempty"`
	Payout    *model.Payout       `json:"payout,omitempty"`
	Removed   bool                `json:"removed,omitempty"`
}

type Event struct {
	Id        string              `json:"id"`
	Type      string              `json:"type"`
	Operation string              `json:"operation"`
	Caller    model.Identity      `json:"caller"`
	Timestamp int64               `json:"timestamp"`
	Record    *model.EscrowRecord `json:"record,omitempty"`
	Payout    *model.Payout       `json:"payout,omitempty"`
}

const eventTypeCommitted = "ESCROW_TRANSITION"

// releaseTimeout bounds one custody release. Releases run detached from the
// invoking request so a cancelled caller cannot abandon a committed payout.
const releaseTimeout = 30 * time.Second

type Normalizer func(model.Identity) (model.Identity, error)

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithIdentityNormalizer canonicalizes every identity entering the escrow:
// caller, transfer parties, declared winner and the configured identities.
func WithIdentityNormalizer(fn Normalizer) Option {
	return func(s *Service) {
		s.normalize = fn
	}
}

// Service owns the escrow sessions. Operations against one session are applied
// one at a time; each either commits fully or leaves the stored record as it
// was. A committed payout is kept on the record until custody confirms it.
type Service struct {
	cfg       Config
	store     store.Store
	custody   Custody
	notifier  Notifier
	normalize Normalizer

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(cfg Config, st store.Store, custody Custody, opts ...Option) (*Service, error) {
	s := &Service{
		store:   st,
		custody: custody,
		locks:   make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if cfg.Reporter, err = s.identity(cfg.Reporter); err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	if cfg.Custody, err = s.identity(cfg.Custody); err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

func (s *Service) Config() Config {
	return s.cfg
}

// Record returns the current record of a session.
func (s *Service) Record(ctx context.Context, session string) (*model.EscrowRecord, error) {
	return s.store.Load(ctx, session)
}

// Invoke applies one invocation. Rejections wrap one of the Err* kinds and
// leave state untouched; any other error is an infrastructure failure. The one
// committed failure is ErrReleasePending: the transition and its receipt
// stand, and the payout is retried by the next invocation on the session.
func (s *Service) Invoke(ctx context.Context, inv Invocation) (*Receipt, error) {
	logger := log.With().
		Str("session", inv.Session).
		Str("operation", inv.Operation).
		Str("caller", string(inv.Caller)).
		Logger()

	if inv.Session == "" {
		return nil, s.rejected(&logger, inv.Operation, errors.Wrap(ErrInvalidArgument, "missing session id"))
	}
	op, err := Decode(inv.Operation, inv.Args)
	if err != nil {
		return nil, s.rejected(&logger, inv.Operation, err)
	}
	c, err := s.newCall(op, inv)
	if err != nil {
		return nil, s.rejected(&logger, inv.Operation, err)
	}

	receipt, err := s.commit(ctx, &logger, inv.Session, c)
	if receipt != nil {
		s.notify(inv.Session, c, receipt)
	}
	return receipt, err
}

// commit runs c under the session lock. It returns a receipt whenever the
// transition was stored.
func (s *Service) commit(ctx context.Context, logger *zerolog.Logger, session string, c call) (*Receipt, error) {
	unlock := s.lock(session)
	defer unlock()

	prev, err := s.store.Load(ctx, session)
	if errors.Is(err, store.ErrRecordNotFound) {
		prev = nil
	} else if err != nil {
		logger.Error().Err(err).Msg("Cannot load escrow record")
		return nil, err
	}

	if prev != nil && prev.PendingRelease() {
		if prev, err = s.settle(logger, session, prev); err != nil {
			logger.Error().Err(err).Msg("Pending payout still not released")
			return nil, errors.Wrap(err, "settling pending payout")
		}
	}

	t, err := route(s.cfg, prev, c)
	if err != nil {
		return nil, s.rejected(logger, c.op.Kind().String(), err)
	}

	if t.remove {
		if err := s.store.Remove(ctx, session, prev.Version); err != nil {
			logger.Error().Err(err).Msg("Cannot remove escrow record")
			return nil, err
		}
	} else {
		if err := t.next.Validate(); err != nil {
			logger.Error().Err(err).Msg("Transition would break record invariants")
			return nil, s.rejected(logger, c.op.Kind().String(), errors.Wrap(ErrStateMismatch, err.Error()))
		}
		t.next.Version = 1
		if prev != nil {
			t.next.Version = prev.Version + 1
		}
		if err := s.store.Save(ctx, session, t.next); err != nil {
			logger.Error().Err(err).Msg("Cannot save escrow record")
			return nil, err
		}
	}
	Metrics.Accepted(c.op.Kind())

	receipt := &Receipt{
		Session:   session,
		Operation: c.op.Kind(),
		Record:    t.next.Clone(),
		Payout:    t.payout,
		Removed:   t.remove,
	}

	if t.next != nil && t.next.PendingRelease() {
		settled, err := s.settle(logger, session, t.next)
		if err != nil {
			Metrics.ReleaseDeferred()
			logger.Error().Err(err).Msg("Payout committed but not released, will retry")
			return receipt, errors.Wrap(ErrReleasePending, err.Error())
		}
		receipt.Record = settled.Clone()
	}

	logger.Info().
		Str("status", statusOf(t.next)).
		Bool("payout", t.payout != nil).
		Msg("Escrow operation committed")
	return receipt, nil
}

// settle hands rec's pending payout to custody and marks it released. When
// the marker cannot be stored the unmarked rec is returned; the next attempt
// repeats the reference and custody drops the duplicate.
func (s *Service) settle(logger *zerolog.Logger, session string, rec *model.EscrowRecord) (*model.EscrowRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	payout := *rec.Payout
	if err := s.custody.Release(ctx, session, releaseReference(session, rec), payout); err != nil {
		return nil, err
	}
	Metrics.PayoutEmitted(string(payout.Reason), payout.Amount)

	settled := rec.Clone()
	settled.Released = true
	settled.Version++
	if err := s.store.Save(ctx, session, settled); err != nil {
		logger.Warn().Err(err).Msg("Payout released but not marked, next release repeats its reference")
		return rec, nil
	}
	return settled, nil
}

// releaseReference names the payout of one record instance. Session ids are
// reused after teardown, nonces are not.
func releaseReference(session string, rec *model.EscrowRecord) string {
	return fmt.Sprintf("escrow/%s/%s/%s", session, rec.Nonce, rec.Payout.Reason)
}

func (s *Service) newCall(op Operation, inv Invocation) (call, error) {
	caller, err := s.identity(inv.Caller)
	if err != nil {
		return call{}, errors.Wrapf(ErrInvalidArgument, "caller: %v", err)
	}

	transfers := make([]model.Transfer, 0, len(inv.Transfers))
	for _, t := range inv.Transfers {
		if t.Sender, err = s.identity(t.Sender); err != nil {
			return call{}, errors.Wrapf(ErrPaymentMismatch, "transfer sender: %v", err)
		}
		if t.Receiver, err = s.identity(t.Receiver); err != nil {
			return call{}, errors.Wrapf(ErrPaymentMismatch, "transfer receiver: %v", err)
		}
		transfers = append(transfers, t)
	}

	if dw, ok := op.(DeclareWinner); ok {
		if dw.Winner, err = s.identity(dw.Winner); err != nil {
			return call{}, errors.Wrapf(ErrInvalidArgument, "winner: %v", err)
		}
		op = dw
	}

	return call{
		op:        op,
		caller:    caller,
		now:       inv.Timestamp,
		transfers: transfers,
		nonce:     uuid.New().String(),
	}, nil
}

func (s *Service) identity(id model.Identity) (model.Identity, error) {
	if s.normalize == nil || id.IsNone() {
		return id, nil
	}
	return s.normalize(id)
}

func (s *Service) rejected(logger *zerolog.Logger, op string, err error) error {
	label := "unknown"
	if kind, parseErr := ParseOpKind(op); parseErr == nil {
		label = kind.String()
	}
	Metrics.Rejected(label, err)
	logger.Warn().Err(err).Str("kind", kindLabel(err)).Msg("Escrow operation rejected")
	return err
}

func (s *Service) notify(session string, c call, receipt *Receipt) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(session, Event{
		Id:        uuid.New().String(),
		Type:      eventTypeCommitted,
		Operation: c.op.Kind().String(),
		Caller:    c.caller,
		Timestamp: c.now,
		Record:    receipt.Record,
		Payout:    receipt.Payout,
	})
}

// lock serializes invocations on one session. Entries are dropped once no
// invocation holds or waits for them.
func (s *Service) lock(session string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[session]
	if !ok {
		l = &sessionLock{}
		s.locks[session] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, session)
		}
		s.locksMu.Unlock()
	}
}

func statusOf(rec *model.EscrowRecord) string {
	if rec == nil {
		return "REMOVED"
	}
	return rec.Status.String()
}
