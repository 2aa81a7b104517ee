package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"eventsub-relay/internal/logging"
)

type snapshot struct {
	cred       Credential
	generation uint64
}

// Store shares the current credential between the stream loop and any other
// reader. Refresh calls that overlap are collapsed into one call to the
// Source and every caller receives its result.
type Store struct {
	source  Source
	logger  *logging.Logger
	now     func() time.Time
	current atomic.Pointer[snapshot]
	group   singleflight.Group
	pending atomic.Int32

	// OnRefresh, when set, is told the outcome of every refresh: "ok",
	// "error" or "replaced".
	OnRefresh func(outcome string)
}

func NewStore(source Source, logger *logging.Logger) *Store {
	return &Store{source: source, logger: logger, now: time.Now}
}

// Init obtains the first credential from the source.
func (s *Store) Init(ctx context.Context) (Credential, error) {
	cred, err := s.source.Obtain(ctx)
	if err != nil {
		return Credential{}, err
	}
	s.swap(cred)
	s.logger.Info("credential obtained",
		logging.Field("source", s.source.Name()),
		logging.Field("login", cred.Login),
		logging.Field("user_id", cred.UserID),
		logging.Field("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}

// Current returns the latest credential. It never blocks.
func (s *Store) Current() Credential {
	snap := s.current.Load()
	if snap == nil {
		return Credential{}
	}
	return snap.cred
}

func (s *Store) Generation() uint64 {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return snap.generation
}

func (s *Store) CanRefresh() bool {
	return s.source.CanRefresh()
}

// Refresh replaces the credential with a newly minted one. A caller whose
// view is already outdated by a refresh that finished after it arrived gets
// that result without another call to the source.
func (s *Store) Refresh(ctx context.Context) (Credential, error) {
	seen := s.current.Load()
	s.pending.Add(1)
	defer s.pending.Add(-1)

	v, err, shared := s.group.Do("refresh", func() (any, error) {
		if latest := s.current.Load(); latest != seen {
			return latest.cred, nil
		}
		var existing Credential
		if seen != nil {
			existing = seen.cred
		}
		cred, err := s.source.Refresh(ctx, existing)
		if err != nil {
			s.report("error")
			return nil, err
		}
		s.swap(cred)
		s.report("ok")
		s.logger.Info("credential refreshed",
			logging.Field("source", s.source.Name()),
			logging.Field("expires_at", cred.ExpiresAt),
		)
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		s.logger.Debug("credential refresh shared with concurrent caller")
	}
	return v.(Credential), nil
}

// RefreshIfDue refreshes when the credential expires within margin. It
// reports whether a refresh happened.
func (s *Store) RefreshIfDue(ctx context.Context, margin time.Duration) (Credential, bool, error) {
	cred := s.Current()
	if !cred.ExpiresWithin(s.now(), margin) {
		return cred, false, nil
	}
	if !s.CanRefresh() {
		return cred, false, &AuthError{Op: "refresh expiring token", Err: ErrNoRefresh}
	}
	refreshed, err := s.Refresh(ctx)
	if err != nil {
		return cred, false, err
	}
	return refreshed, true, nil
}

// Replace installs a credential obtained out of band, e.g. a token file
// rewritten by another process.
func (s *Store) Replace(cred Credential) error {
	if cred.AccessToken == "" {
		return errors.New("replace credential: empty access token")
	}
	s.swap(cred)
	s.report("replaced")
	return nil
}

func (s *Store) swap(cred Credential) {
	for {
		old := s.current.Load()
		next := &snapshot{cred: cred, generation: 1}
		if old != nil {
			next.generation = old.generation + 1
		}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *Store) report(outcome string) {
	if s.OnRefresh != nil {
		s.OnRefresh(outcome)
	}
}

func (s *Store) pendingRefreshes() int {
	return int(s.pending.Load())
}
