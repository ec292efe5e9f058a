package metacache

import (
	"context"
	"errors"
	"time"

	retry "github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stratodb/strato/authority"
	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/stratolog"
)

// Coordinator bridges cache misses and invalidations to the metadata
// authority. Concurrent lookups for the same table join a single
// in-flight call; the result is installed into the cache once and
// broadcast to every waiter.
type Coordinator struct {
	auth  authority.Authority
	cache *LocationCache

	group singleflight.Group

	backoffBase   time.Duration
	maxRetries    uint64
	flightTimeout time.Duration
}

const (
	defaultBackoffBase   = 100 * time.Millisecond
	defaultMaxRetries    = 7
	defaultFlightTimeout = 30 * time.Second
)

func newCoordinator(auth authority.Authority, cache *LocationCache) *Coordinator {
	return &Coordinator{
		auth:          auth,
		cache:         cache,
		backoffBase:   defaultBackoffBase,
		maxRetries:    defaultMaxRetries,
		flightTimeout: defaultFlightTimeout,
	}
}

func (c *Coordinator) ensureFresh(ctx context.Context, req RouteRequest) error {
	tableID := req.TableID
	if tableID == "" {
		rec := c.cache.lookupRecord(req)
		if rec == nil {
			return stratoerror.Newf(stratoerror.STRT_TABLET_NOT_FOUND,
				"tablet \"%s\" is unknown, cannot resolve its table", req.TabletID)
		}
		tableID = rec.TableID
	}
	return c.EnsureFreshTable(ctx, tableID)
}

// EnsureFreshTable refreshes the cached locations of a table, joining
// an already-outstanding lookup if one exists. A waiter whose context
// expires abandons its wait and gets LookupTimeout; the in-flight call
// keeps running for the remaining waiters.
func (c *Coordinator) EnsureFreshTable(ctx context.Context, tableID string) error {
	ch := c.group.DoChan(tableID, func() (interface{}, error) {
		// The flight outlives any single waiter, so it runs on its own
		// deadline, not on the first caller's context.
		fctx, cancel := context.WithTimeout(context.Background(), c.flightTimeout)
		defer cancel()
		return nil, c.lookup(fctx, tableID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			stratolog.Zero.Debug().
				Str("table", tableID).
				Msg("coordinator: joined in-flight lookup")
		}
		return res.Err
	case <-ctx.Done():
		return stratoerror.Newf(stratoerror.STRT_LOOKUP_TIMEOUT,
			"lookup for table \"%s\" abandoned: %v", tableID, ctx.Err())
	}
}

func (c *Coordinator) lookup(ctx context.Context, tableID string) error {
	err := retry.Do(ctx, retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoffBase)), func(ctx context.Context) error {
		locs, err := c.auth.GetTableLocations(ctx, tableID)
		if err != nil {
			if transient(err) {
				stratolog.Zero.Debug().
					Err(err).
					Str("table", tableID).
					Msg("coordinator: transient authority error, backing off")
				return retry.RetryableError(err)
			}
			return err
		}
		return c.cache.RefreshTable(tableID, locs)
	})
	if err == nil {
		return nil
	}

	var se *stratoerror.StratoError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stratoerror.Newf(stratoerror.STRT_LOOKUP_TIMEOUT,
			"lookup for table \"%s\" did not complete in time", tableID)
	}
	return stratoerror.Newf(stratoerror.STRT_AUTHORITY_ERROR,
		"lookup for table \"%s\": %v", tableID, err)
}

// transient reports whether an authority error is worth a local retry.
// Typed strato errors (table not found, malformed payload) are
// permanent; unavailability, grpc or otherwise, is not.
func transient(err error) bool {
	var se *stratoerror.StratoError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Unknown:
		return true
	default:
		return false
	}
}

// EnsureFresh refreshes the locations of a table on demand, outside of
// the Route path. Exposed for warmup and for data-path retry loops that
// invalidate and refetch after a stale-routing signal.
func (c *LocationCache) EnsureFresh(ctx context.Context, tableID string) error {
	return c.coord.EnsureFreshTable(ctx, tableID)
}
