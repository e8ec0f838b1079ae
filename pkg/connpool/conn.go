package connpool

import (
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
)

// Conn is a leasable wrapper around a datastore connection. While leased it
// belongs exclusively to the borrowing operation; every lease must end with
// Release.
type Conn struct {
	raw  datastore.Conn
	pool *Pool

	id        int64
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64

	leased    atomic.Bool
	unhealthy atomic.Bool
	// closeAfter, when set, postpones closing the raw connection until the
	// abandoned driver call it belongs to has returned
	closeAfter <-chan struct{}
}

// Raw returns the underlying datastore connection. It must only be used
// while the connection is leased.
func (c *Conn) Raw() datastore.Conn { return c.raw }

// ID returns the pool-assigned connection id
func (c *Conn) ID() int64 { return c.id }

// CreatedAt returns when the connection was dialled
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// UseCount returns how many leases this connection has served
func (c *Conn) UseCount() int64 { return c.useCount }

// MarkUnhealthy flags the connection for discard on release
func (c *Conn) MarkUnhealthy() { c.unhealthy.Store(true) }

// Unhealthy reports whether the connection has been flagged for discard
func (c *Conn) Unhealthy() bool { return c.unhealthy.Load() }

// CloseAfter marks the connection unhealthy and defers closing the raw
// connection until done is closed. Its pool slot stays reserved until then.
func (c *Conn) CloseAfter(done <-chan struct{}) {
	c.closeAfter = done
	c.MarkUnhealthy()
}

// Release returns the connection to its pool. Calling it more than once is
// a no-op.
func (c *Conn) Release() { c.pool.Release(c) }
