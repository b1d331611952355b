package bridge

import "time"

// Published minimums, per the bridge's data model. Options values below
// these are clamped up rather than rejected.
const (
	MinBridgeTimeout             = 100 * time.Millisecond
	MinPauseWriterThresholdBytes = 1024
	MinSocketBufferBytes         = 1024

	DefaultAcceptInterval     = 1000 * time.Millisecond
	DefaultBridgeTimeout      = 3000 * time.Millisecond
	DefaultOutgoingCacheBytes = 4096
)

// Options configures a Bridge. Zero-value optional fields (marked with a
// pointer type) mean "unset", i.e. leave the underlying library/OS default
// in place; omitted required numeric fields take the defaults above.
type Options struct {
	// AcceptInterval is the delay between accept attempts after a
	// connection ends or a listen error. Must be >= 0.
	AcceptInterval time.Duration

	// BridgeTimeout is the deadline for a single flush/send operation.
	// Clamped up to MinBridgeTimeout.
	BridgeTimeout time.Duration

	// OutgoingCacheBytes is the capacity of the ring that holds outbound
	// bytes while no client is connected. Must be >= 0.
	OutgoingCacheBytes int

	// PauseWriterThresholdBytes is the high-water mark, in bytes, at which
	// a pipe backpressures its producer. nil means no backpressure.
	PauseWriterThresholdBytes *int

	// SendBufferBytes / RecvBufferBytes set the accepted socket's
	// SO_SNDBUF / SO_RCVBUF equivalents. nil means leave the OS default.
	SendBufferBytes *int
	RecvBufferBytes *int
}

// normalized returns a copy of o with every field clamped or defaulted per
// spec: numeric fields below the published minimum are raised to it, and
// zero-value required fields take the documented defaults.
//
// A plain Duration/int field can't distinguish "omitted" from "explicitly
// set to zero", so — as with the teacher's own Config, where an empty
// "mode" string and an absent one are handled identically — the zero value
// is treated as omitted and takes the default. Callers who want a true
// zero-delay accept loop should pass a tiny positive value (e.g. 1ns).
func (o Options) normalized() Options {
	out := o

	if out.AcceptInterval <= 0 {
		out.AcceptInterval = DefaultAcceptInterval
	}

	if out.BridgeTimeout <= 0 {
		out.BridgeTimeout = DefaultBridgeTimeout
	}
	if out.BridgeTimeout < MinBridgeTimeout {
		out.BridgeTimeout = MinBridgeTimeout
	}

	if out.OutgoingCacheBytes == 0 {
		out.OutgoingCacheBytes = DefaultOutgoingCacheBytes
	}
	if out.OutgoingCacheBytes < 0 {
		out.OutgoingCacheBytes = 0
	}

	if out.PauseWriterThresholdBytes != nil && *out.PauseWriterThresholdBytes < MinPauseWriterThresholdBytes {
		clamped := MinPauseWriterThresholdBytes
		out.PauseWriterThresholdBytes = &clamped
	}
	if out.SendBufferBytes != nil && *out.SendBufferBytes < MinSocketBufferBytes {
		clamped := MinSocketBufferBytes
		out.SendBufferBytes = &clamped
	}
	if out.RecvBufferBytes != nil && *out.RecvBufferBytes < MinSocketBufferBytes {
		clamped := MinSocketBufferBytes
		out.RecvBufferBytes = &clamped
	}

	return out
}

func (o Options) pauseWriterThreshold() int {
	if o.PauseWriterThresholdBytes == nil {
		return 0
	}
	return *o.PauseWriterThresholdBytes
}
