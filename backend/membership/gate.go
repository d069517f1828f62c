package membership

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLookupTimeout = 3 * time.Second
)

var (
	ErrLookup = errors.New("membership lookup failed")
)

// Gate reports whether a user is a recorded member of a group.
type Gate interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Deduplicated collapses concurrent identical lookups into a single
// query against the underlying store. Answers are not cached.
// The shared query is bounded by timeout only; each caller still
// gives up on its own context.
type Deduplicated struct {
	gate    Gate
	sf      *singleflight.Group
	timeout time.Duration
	logger  zerolog.Logger
}

func NewDeduplicated(gate Gate, timeout time.Duration, logger *zerolog.Logger) *Deduplicated {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Deduplicated{
		gate:    gate,
		sf:      &singleflight.Group{},
		timeout: timeout,
		logger:  logger.With().Str("component", "membership").Logger(),
	}
}

func (d *Deduplicated) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	key := strconv.Itoa(len(groupID)) + ":" + groupID + userID
	ch := d.sf.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.gate.IsMember(lookupCtx, groupID, userID)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			d.logger.Error().Err(res.Err).
				Str("groupID", groupID).
				Str("userID", userID).
				Msg("membership lookup failed")
			return false, errors.Join(ErrLookup, res.Err)
		}
		member, _ := res.Val.(bool)
		d.logger.Trace().
			Str("groupID", groupID).
			Str("userID", userID).
			Bool("member", member).
			Bool("shared", res.Shared).
			Msg("membership checked")
		return member, nil
	}
}
