package sdk

import "time"

type options struct {
	callTimeout       time.Duration
	heartbeatInterval time.Duration
	identityHeader    string
	maxDialAttempts   int
	initialDialDelay  time.Duration
	eventBuffer       int
}

func defaultOptions() options {
	return options{
		callTimeout:       30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		identityHeader:    "X-Tester-Identity",
		maxDialAttempts:   3,
		initialDialDelay:  500 * time.Millisecond,
		eventBuffer:       64,
	}
}

// Option configures the SDK client.
type Option func(*options)

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithHeartbeatInterval sets how often background heartbeats are sent.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithIdentityHeader overrides the header the identity is carried in.
func WithIdentityHeader(name string) Option {
	return func(o *options) { o.identityHeader = name }
}

// WithDialRetry configures connection retry behaviour.
func WithDialRetry(maxAttempts int, initialDelay time.Duration) Option {
	return func(o *options) {
		o.maxDialAttempts = maxAttempts
		o.initialDialDelay = initialDelay
	}
}
