package eventsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/runctx"
)

const (
	defaultWelcomeTimeout  = 10 * time.Second
	defaultSubscribeWindow = 5 * time.Second
)

// CredentialStore is the view of auth.Store the stream needs.
type CredentialStore interface {
	Current() auth.Credential
	RefreshIfDue(ctx context.Context, margin time.Duration) (auth.Credential, bool, error)
}

type SubscriptionEnsurer interface {
	Ensure(ctx context.Context, session Session, cred auth.Credential, targets []Target) error
}

type Publisher interface {
	Publish(event Event) int
}

// Stream keeps one EventSub connection alive: it reconnects on silence,
// resets and server request, re-asserts subscriptions on every welcome and
// publishes decoded notifications in wire order.
type Stream struct {
	URL           string
	Dialer        Dialer
	Credentials   CredentialStore
	Subscriptions SubscriptionEnsurer
	Targets       []Target
	Publisher     Publisher
	RefreshMargin time.Duration
	// WelcomeTimeout bounds the wait for the first welcome, before the server
	// has announced its keepalive interval.
	WelcomeTimeout time.Duration
	// SubscribeWindow bounds the retries of subscription creation after a
	// welcome.
	SubscribeWindow time.Duration
	Metrics         *Metrics
	Logger          *logging.Logger
	OnState         func(State, Session)
}

type readResult struct {
	data []byte
	err  error
}

type input struct {
	kind  inputKind
	frame frame
	err   error
}

// retiredConn is a connection replaced by a reconnect frame. It keeps
// delivering notifications until the new connection is welcomed.
type retiredConn struct {
	conn   Conn
	frames <-chan readResult
	stop   context.CancelFunc
}

// runner is the mutable state of one Run call.
type runner struct {
	s          *Stream
	state      State
	target     ConnectionTarget
	session    Session
	conn       Conn
	frames     <-chan readResult
	stopReader context.CancelFunc
	retired    *retiredConn
	timer      *time.Timer
	err        error
	log        *logging.Logger
}

// Run streams until ctx is canceled or the loop fails. It returns ctx.Err()
// on cancellation and the terminating error otherwise.
func (s *Stream) Run(ctx context.Context) error {
	welcome := s.WelcomeTimeout
	if welcome <= 0 {
		welcome = defaultWelcomeTimeout
	}
	r := &runner{
		s:      s,
		state:  StateConnecting,
		target: ConnectionTarget{URL: s.URL, KeepaliveTimeout: welcome},
		timer:  time.NewTimer(time.Hour),
		log:    s.Logger,
	}
	r.timer.Stop()
	defer r.timer.Stop()
	defer r.detach()
	s.Metrics.state(StateConnecting)
	return r.loop(ctx)
}

func (r *runner) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			r.log.Debug("stopping eventsub stream: context canceled", logging.Field("error", err))
			return err
		}
		switch r.state {
		case StateFailed:
			return r.err
		case StateConnecting, StateReconnecting:
			r.connect(ctx)
		default:
			select {
			case <-ctx.Done():
				continue
			case <-r.timer.C:
				r.apply(ctx, input{
					kind: inputTimeout,
					err:  fmt.Errorf("no frame within %s", r.target.KeepaliveTimeout),
				})
			case res := <-r.frames:
				r.apply(ctx, r.readInput(res))
			case res := <-r.retiredFrames():
				r.drainRetired(res)
			}
		}
	}
}

func (r *runner) connect(ctx context.Context) {
	if r.state == StateReconnecting {
		if err := r.refreshIfDue(ctx); err != nil {
			r.apply(ctx, input{kind: inputRefreshFailed, err: err})
			return
		}
	}
	attempt := uuid.NewString()
	r.log = r.s.Logger.With(logging.Field("attempt", attempt))
	r.log.Debug("connecting to eventsub", logging.Field("url", r.target.URL))

	conn, err := r.s.Dialer.Dial(ctx, r.target.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.apply(ctx, input{kind: inputDialFailed, err: err})
		return
	}
	r.attach(conn)
	r.apply(ctx, input{kind: inputDialed})
}

// refreshIfDue renews the credential when it expires within the margin. A
// source without a refresh path keeps the current token.
func (r *runner) refreshIfDue(ctx context.Context) error {
	if r.s.Credentials == nil {
		return nil
	}
	cred, refreshed, err := r.s.Credentials.RefreshIfDue(ctx, r.s.RefreshMargin)
	if errors.Is(err, auth.ErrNoRefresh) {
		r.log.Warn("credential expires soon and cannot be refreshed", logging.Field("expires_at", cred.ExpiresAt))
		return nil
	}
	if err != nil {
		return err
	}
	if refreshed {
		r.log.Info("credential refreshed before reconnect", logging.Field("expires_at", cred.ExpiresAt))
	}
	return nil
}

func (r *runner) readInput(res readResult) input {
	if res.err != nil {
		err := classifyReadError(res.err)
		var protoErr *ProtocolError
		switch {
		case errors.As(err, &protoErr) && protoErr.Recoverable():
			return input{kind: inputReset, err: err}
		case errors.As(err, &protoErr):
			return input{kind: inputCloseFrame, err: err}
		default:
			return input{kind: inputReadFailed, err: err}
		}
	}

	r.resetDeadline()
	f, err := parseFrame(res.data)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			r.s.Metrics.decodeError()
			r.log.Warn("skipping unparseable frame", logging.Field("error", err))
			return input{kind: inputUnknownFrame}
		}
		return input{kind: inputReadFailed, err: err}
	}
	r.s.Metrics.frame(f.messageType())
	switch f.messageType() {
	case MessageWelcome:
		return input{kind: inputWelcome, frame: f}
	case MessageReconnect:
		return input{kind: inputReconnectFrame, frame: f}
	case MessageKeepalive:
		return input{kind: inputKeepalive, frame: f}
	case MessageNotification:
		return input{kind: inputNotification, frame: f}
	case MessageRevocation:
		return input{kind: inputRevocation, frame: f, err: &RevokedError{Subscription: f.subscription}}
	default:
		return input{kind: inputUnknownFrame, frame: f}
	}
}

func (r *runner) apply(ctx context.Context, in input) {
	next, eff := transition(r.state, in.kind)
	switch eff {
	case effectIgnore:
		r.log.Debug("ignoring unexpected input",
			logging.Field("state", r.state.String()),
			logging.Field("input", in.kind.String()),
			logging.Field("message_type", string(in.frame.messageType())),
		)
	case effectSubscribe:
		r.setState(next)
		r.releaseRetired()
		r.session = in.frame.session
		r.target = nextTarget(r.target, in.frame.messageType(), in.frame.session)
		r.log.Info("eventsub session established",
			logging.Field("session_id", r.session.ID),
			logging.Field("keepalive", r.target.KeepaliveTimeout.String()),
		)
		if err := r.subscribe(ctx); err != nil {
			r.apply(ctx, input{kind: inputSubscribeFailed, err: err})
			return
		}
		r.resetDeadline()
		r.apply(ctx, input{kind: inputSubscribed})
		return
	case effectPublish:
		r.publish(in.frame)
	case effectReconnect:
		if in.kind == inputReconnectFrame {
			r.target = nextTarget(r.target, MessageReconnect, in.frame.session)
		}
		r.s.Metrics.reconnect(in.kind.String())
		r.log.Info("reconnecting to eventsub",
			logging.Field("reason", in.kind.String()),
			logging.Field("url", r.target.URL),
			logging.Field("error", in.err),
		)
		if in.kind == inputReconnectFrame {
			r.retire()
		} else {
			r.detach()
		}
	case effectFail:
		r.err = in.err
		if r.err == nil {
			r.err = fmt.Errorf("eventsub stream failed on %s", in.kind)
		}
		r.log.Warn("eventsub stream failed",
			logging.Field("state", r.state.String()),
			logging.Field("input", in.kind.String()),
			logging.Field("error", r.err),
		)
		r.detach()
	}
	r.setState(next)
}

func (r *runner) subscribe(ctx context.Context) error {
	window := r.s.SubscribeWindow
	if window <= 0 {
		window = defaultSubscribeWindow
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.Reset()

	cred := r.s.Credentials.Current()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.s.Subscriptions.Ensure(ctx, r.session, cred, r.s.Targets)
		if err == nil {
			return struct{}{}, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(window),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Debug("retrying subscription",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)
	if err == nil {
		return nil
	}
	var authErr *AuthError
	var subErr *SubscriptionError
	if errors.As(err, &authErr) || errors.As(err, &subErr) || ctx.Err() != nil {
		return err
	}
	return &SubscriptionError{Err: err}
}

func (r *runner) publish(f frame) {
	event, ok, err := decodeNotification(f.env)
	if err != nil {
		r.s.Metrics.decodeError()
		r.log.Warn("skipping undecodable notification", logging.Field("error", err))
		return
	}
	if !ok {
		r.log.Debug("ignoring unsupported notification",
			logging.Field("type", f.env.Metadata.SubscriptionType),
			logging.Field("version", f.env.Metadata.SubscriptionVersion),
		)
		return
	}
	r.s.Metrics.published(event.Type)
	if r.s.Publisher == nil {
		return
	}
	if dropped := r.s.Publisher.Publish(event); dropped > 0 {
		for range dropped {
			r.s.Metrics.dropped()
		}
		r.log.Warn("consumer buffer full, dropped oldest events", logging.Field("dropped", dropped))
	}
}

func (r *runner) setState(next State) {
	if next == r.state {
		return
	}
	r.log.Debug("stream state changed",
		logging.Field("from", r.state.String()),
		logging.Field("to", next.String()),
	)
	r.state = next
	r.s.Metrics.state(next)
	if r.s.OnState != nil {
		r.s.OnState(next, r.session)
	}
}

func (r *runner) resetDeadline() {
	r.timer.Reset(r.target.KeepaliveTimeout)
}

func (r *runner) attach(conn Conn) {
	frames := make(chan readResult)
	readerCtx, stop := context.WithCancel(context.Background())
	r.conn = conn
	r.frames = frames
	r.stopReader = stop
	r.resetDeadline()
	go readFrames(readerCtx, conn, frames)
}

// detach discards the current connection; its session goes with it.
func (r *runner) detach() {
	r.timer.Stop()
	r.releaseRetired()
	if r.conn == nil {
		return
	}
	r.stopReader()
	_ = r.conn.Close()
	r.conn = nil
	r.frames = nil
	r.session = Session{}
}

// retire parks the current connection so it keeps reading while the
// replacement dials and waits for its welcome.
func (r *runner) retire() {
	r.timer.Stop()
	r.releaseRetired()
	if r.conn == nil {
		return
	}
	r.retired = &retiredConn{conn: r.conn, frames: r.frames, stop: r.stopReader}
	r.conn = nil
	r.frames = nil
	r.stopReader = nil
	r.session = Session{}
}

func (r *runner) releaseRetired() {
	if r.retired == nil {
		return
	}
	r.retired.stop()
	_ = r.retired.conn.Close()
	r.retired = nil
	r.log.Debug("closed previous eventsub connection")
}

func (r *runner) retiredFrames() <-chan readResult {
	if r.retired == nil {
		return nil
	}
	return r.retired.frames
}

// drainRetired publishes notifications still arriving on the retired
// connection. Anything else it sends is dropped, and a read error ends it.
func (r *runner) drainRetired(res readResult) {
	if res.err != nil {
		r.log.Debug("previous eventsub connection ended", logging.Field("error", res.err))
		r.releaseRetired()
		return
	}
	f, err := parseFrame(res.data)
	if err != nil || f.messageType() != MessageNotification {
		return
	}
	r.s.Metrics.frame(f.messageType())
	r.publish(f)
}

// readFrames pumps text frames from conn until a read fails or ctx is
// canceled by detach.
func readFrames(ctx context.Context, conn Conn, out chan<- readResult) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			runctx.Send(ctx, out, readResult{err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !runctx.Send(ctx, out, readResult{data: data}) {
			return
		}
	}
}
