package runner

import (
	"container/list"
	"sync"

	"github.com/streadway/amqp"

	"github.com/emerick42/kairoi/internal/metrics"
)

const amqpCacheCapacity = 16

type amqpConn struct {
	dsn  string
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (c *amqpConn) close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// amqpCache is an LRU of open AMQP connection+channel pairs, keyed by
// data-source-name, bounded at 16 entries with oldest-first eviction —
// spec §3 "AMQP connection cache".
type amqpCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element // dsn -> element holding *amqpConn
	order    *list.List               // front = most recently used
}

func newAMQPCache() *amqpCache {
	return &amqpCache{
		capacity: amqpCacheCapacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns a cached connection for dsn, or nil if absent. On a hit
// the entry is moved to the front (most recently used).
func (c *amqpCache) get(dsn string) *amqpConn {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[dsn]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*amqpConn)
}

// put inserts a freshly opened connection as most-recently-used,
// evicting the least-recently-used entry first if the cache is full.
func (c *amqpCache) put(conn *amqpConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(conn)
}

// insertLocked does the work of put with c.mu already held, so
// getOrOpen can insert as part of its atomic check-open-insert
// sequence.
func (c *amqpCache) insertLocked(conn *amqpConn) {
	if el, ok := c.items[conn.dsn]; ok {
		el.Value.(*amqpConn).close()
		c.order.Remove(el)
		delete(c.items, conn.dsn)
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*amqpConn)
			evicted.close()
			delete(c.items, evicted.dsn)
			c.order.Remove(oldest)
			metrics.AMQPCacheEvictionsTotal.Inc()
		}
	}

	el := c.order.PushFront(conn)
	c.items[conn.dsn] = el
	metrics.AMQPCacheSize.Set(float64(c.order.Len()))
}

// getOrOpen returns the cached connection for dsn, calling openFn and
// caching its result if absent. The whole check-open-insert sequence
// holds c.mu, so two callers racing on the same dsn can never both open
// a connection and have one silently closed out from under the other's
// in-flight Publish — the race the AMQP worker pool exists to prevent
// by construction (callers are still expected to serialize through a
// small dedicated worker set; this makes the cache itself safe too).
func (c *amqpCache) getOrOpen(dsn string, openFn func() (*amqpConn, error)) (*amqpConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[dsn]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*amqpConn), nil
	}

	conn, err := openFn()
	if err != nil {
		return nil, err
	}
	c.insertLocked(conn)
	return conn, nil
}

// evict drops and closes dsn's entry, if present — used when a publish
// fails so the next attempt opens a fresh connection.
func (c *amqpCache) evict(dsn string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[dsn]
	if !ok {
		return
	}
	el.Value.(*amqpConn).close()
	delete(c.items, dsn)
	c.order.Remove(el)
	metrics.AMQPCacheSize.Set(float64(c.order.Len()))
}
