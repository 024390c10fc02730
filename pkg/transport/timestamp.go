package transport

import (
	"time"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

// ParseTimestamp parses an RFC 3339 timestamp with an explicit timezone and
// returns it in UTC. A trailing Z is equivalent to +00:00.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fault.New(fault.KindTimestampMissing, "timestamp is required")
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fault.Wrap(fault.KindTimestampMalformed, err, "invalid timestamp %q", value)
	}

	return t.UTC(), nil
}

// AssertWithinSkew parses the timestamp and rejects it when it deviates from
// now by more than maxSkew. The boundary is inclusive.
func AssertWithinSkew(value string, maxSkew time.Duration, now time.Time) error {
	t, err := ParseTimestamp(value)
	if err != nil {
		return err
	}

	skew := now.UTC().Sub(t)
	if skew < 0 {
		skew = -skew
	}

	if skew > maxSkew {
		return fault.New(fault.KindTimestampSkew, "timestamp %q outside allowed skew of %s", value, maxSkew)
	}

	return nil
}
