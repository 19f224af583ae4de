package recdb

import (
	"bytes"

	"go.uber.org/zap"
)

const (
	debugLogRawScans = false
)

// rawRange defines a range of byte strings within a bucket. Both bounds are
// exclusive. Lower and Upper must start with Prefix when both are set.
type rawRange struct {
	Prefix  []byte
	Lower   []byte
	Upper   []byte
	Reverse bool
}

// origin is where a scan starts: the bound on the side the scan starts
// from, or the prefix when that bound is missing. exclusive reports that
// origin is a bound, whose first match must be skipped.
func (r *rawRange) origin() (origin []byte, exclusive bool) {
	bound, which := r.Lower, "lower"
	if r.Reverse {
		bound, which = r.Upper, "upper"
	}
	if bound == nil {
		return r.Prefix, false
	}
	if r.Prefix != nil && !bytes.HasPrefix(bound, r.Prefix) {
		panic(which + " bound does not match prefix")
	}
	return bound, true
}

func (r *rawRange) start(bcur storageCursor, logger *zap.Logger) ([]byte, []byte) {
	origin, skip := r.origin()
	var k, v []byte
	switch {
	case origin == nil && r.Reverse:
		k, v = bcur.Last()
	case origin == nil:
		k, v = bcur.First()
	case r.Reverse:
		k, v = bcur.SeekLast(origin)
	default:
		k, v = bcur.Seek(origin)
	}
	if debugLogRawScans {
		logger.Debug("scan: start", hexField("origin", origin), zap.Bool("reverse", r.Reverse), hexField("key", k))
	}
	if k == nil || !r.match(k, logger) {
		return nil, nil
	}
	// keys extending the bound sort on the bound's side of it
	if skip && bytes.HasPrefix(k, origin) {
		return r.next(bcur, logger)
	}
	return k, v
}

func (r *rawRange) next(bcur storageCursor, logger *zap.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if debugLogRawScans {
		logger.Debug("scan: step", zap.Bool("reverse", r.Reverse), hexField("key", k))
	}
	if k == nil || !r.match(k, logger) {
		return nil, nil
	}
	return k, v
}

// match reports whether k is still inside the range on the side the scan
// moves towards.
func (r *rawRange) match(k []byte, logger *zap.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.Debug("scan: out of prefix", hexField("prefix", r.Prefix), hexField("key", k))
		}
		return false
	}
	if r.Reverse {
		return r.Lower == nil || bytes.Compare(k, r.Lower) > 0
	}
	return r.Upper == nil || bytes.Compare(k, r.Upper) < 0
}

func (r *rawRange) newCursor(bcur storageCursor, logger *zap.Logger) *rawRangeCursor {
	return &rawRangeCursor{rang: *r, bcur: bcur, logger: logger}
}

type rawRangeCursor struct {
	rang   rawRange
	bcur   storageCursor
	logger *zap.Logger
	k, v   []byte
	init   bool
}

func (c *rawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *rawRangeCursor) Key() []byte   { return c.k }
func (c *rawRangeCursor) Value() []byte { return c.v }
