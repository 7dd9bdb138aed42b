package index

import (
	"time"
)

// Option configures Build.
type Option func(*options)

type options struct {
	strict   bool
	rootPerm uint32
	rootUID  uint32
	rootGID  uint32
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		rootPerm: 0o755,
		now:      time.Now,
	}
}

// WithStrictHeaders rejects records that relied on PAX extended headers or
// GNU long name records. By default those headers are folded into the
// record they describe.
func WithStrictHeaders(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithRootOwner sets the owner of the synthetic root directory.
func WithRootOwner(uid, gid uint32) Option {
	return func(o *options) {
		o.rootUID = uid
		o.rootGID = gid
	}
}

// WithRootPerm sets the permission bits of the synthetic root directory.
func WithRootPerm(perm uint32) Option {
	return func(o *options) {
		o.rootPerm = perm & 0o7777
	}
}

// WithClock sets the time source used for the root's modification time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
