package session

import (
	"time"

	"sshexec/internal/engine"
	"sshexec/internal/engine/xssh"
	"sshexec/internal/metrics"
	"sshexec/internal/poll"
	"sshexec/internal/transport"
	"sshexec/util"
)

// Option configures Connect and New.
type Option func(*options)

type options struct {
	dialer      transport.Dialer
	engine      engine.Session
	waiter      poll.Waiter
	waitTimeout time.Duration
	readChunk   int
	logger      *util.Logger
	metrics     *metrics.Collector

	strictHostKey bool
	knownHosts    string
	queueDepth    int
}

func buildOptions(opts []Option) *options {
	o := &options{
		waitTimeout: poll.DefaultTimeout,
		readChunk:   util.DefaultBufSize,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.dialer == nil {
		o.dialer = &transport.TCPDialer{}
	}
	if o.waiter == nil {
		o.waiter = poll.NewFDWaiter(o.metrics, o.logger)
	}
	return o
}

// newEngine returns the configured engine, or an x/crypto engine for
// addr.
func (o *options) newEngine(addr string) (engine.Session, error) {
	if o.engine != nil {
		return o.engine, nil
	}
	return xssh.New(xssh.Options{
		Addr:          addr,
		StrictHostKey: o.strictHostKey,
		KnownHosts:    o.knownHosts,
		QueueDepth:    o.queueDepth,
		Logger:        o.logger,
	})
}

// WithDialer replaces the TCP dialer used by Connect.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithEngine supplies the engine handle instead of creating one.
func WithEngine(e engine.Session) Option {
	return func(o *options) { o.engine = e }
}

// WithWaiter replaces the poll(2) readiness waiter.
func WithWaiter(w poll.Waiter) Option {
	return func(o *options) { o.waiter = w }
}

// WithWaitTimeout bounds each readiness wait.  A wait that times out
// is not an error; the operation is simply tried again.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

// WithReadChunk sets the maximum bytes requested per engine read.
func WithReadChunk(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readChunk = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *util.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithHostKeyCheck enables strict host-key checking against knownHosts
// (~/.ssh/known_hosts when empty).  Only applies to the built-in engine.
func WithHostKeyCheck(knownHosts string) Option {
	return func(o *options) {
		o.strictHostKey = true
		o.knownHosts = knownHosts
	}
}

// WithQueueDepth sets how many read chunks the built-in engine buffers
// per stream.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}
