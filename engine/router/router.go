// Package router is the hybrid dispatch layer. Reads prefer the cache, then
// the SQLite file, then fall through to generated AppleScript; writes always
// go through the operation queue and emit cache invalidation tags on
// success. Reads issued shortly after a write to the same data skip the
// stale paths and ask the running application directly.
package router

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/thingsmcp/thingsmcp/engine/applescript"
	"github.com/thingsmcp/thingsmcp/engine/cache"
	"github.com/thingsmcp/thingsmcp/engine/queue"
	"github.com/thingsmcp/thingsmcp/engine/scheduler"
	"github.com/thingsmcp/thingsmcp/engine/shaper"
	"github.com/thingsmcp/thingsmcp/engine/tagpolicy"
	"github.com/thingsmcp/thingsmcp/engine/thingsdb"
	"github.com/thingsmcp/thingsmcp/engine/urlscheme"
)

const (
	defaultReadPool     = 10
	defaultBulkInflight = 5

	// authoritativeWindow is how long after a successful write reads bypass
	// the cache and the database. The SQLite file lags the application by an
	// unbounded sync delay, so within this window only the automation path
	// is trusted.
	authoritativeWindow = 15 * time.Second
)

type Config struct {
	ReadPool      int
	BulkInflight  int
	ScriptTimeout time.Duration
}

// Router owns every backend handle. Construct with New and share freely;
// all methods are safe for concurrent use.
type Router struct {
	cfg       Config
	cache     *cache.Cache
	db        *thingsdb.Reader // nil when the database could not be opened
	exec      *applescript.Executor
	formatter *applescript.Formatter
	parser    *applescript.Parser
	invoker   *urlscheme.Invoker
	queue     *queue.Queue
	sched     *scheduler.Scheduler
	tags      *tagpolicy.Engine
	shaper    *shaper.Shaper

	readSem *semaphore.Weighted

	mu          sync.Mutex
	lastWriteAt time.Time
	started     time.Time
}

func New(
	cfg Config,
	c *cache.Cache,
	db *thingsdb.Reader,
	exec *applescript.Executor,
	formatter *applescript.Formatter,
	invoker *urlscheme.Invoker,
	q *queue.Queue,
	sched *scheduler.Scheduler,
	tags *tagpolicy.Engine,
	sh *shaper.Shaper,
) *Router {
	if cfg.ReadPool <= 0 {
		cfg.ReadPool = defaultReadPool
	}
	if cfg.BulkInflight <= 0 {
		cfg.BulkInflight = defaultBulkInflight
	}
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = applescript.DefaultTimeout
	}
	return &Router{
		cfg:       cfg,
		cache:     c,
		db:        db,
		exec:      exec,
		formatter: formatter,
		parser:    applescript.NewParser(),
		invoker:   invoker,
		queue:     q,
		sched:     sched,
		tags:      tags,
		shaper:    sh,
		readSem:   semaphore.NewWeighted(int64(cfg.ReadPool)),
		started:   time.Now(),
	}
}

// markWrite records a successful write so subsequent reads know to distrust
// the cache and the database file.
func (r *Router) markWrite() {
	r.mu.Lock()
	r.lastWriteAt = time.Now()
	r.mu.Unlock()
}

// authoritative reports whether reads must currently use the automation
// path.
func (r *Router) authoritative() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastWriteAt.IsZero() && time.Since(r.lastWriteAt) < authoritativeWindow
}

// invalidate drops cache entries for the given tag set.
func (r *Router) invalidate(tags []string) {
	if r.cache != nil {
		r.cache.Invalidate(tags)
	}
}

// writeImpact builds the invalidation set for a write touching entity id.
// List membership cannot be known without a read, so every list view is
// invalidated; tag views only when the write touched tags.
func writeImpact(entityID string, tagsChanged bool, projectID string) []string {
	tags := []string{"entity:" + entityID, "list:*"}
	if tagsChanged {
		tags = append(tags, "tags:*")
	}
	if projectID != "" {
		tags = append(tags, "project:"+projectID)
	}
	return tags
}

// listInvalidationTags is the tag set a cached list read registers under.
func listInvalidationTags(op string, extra ...string) []string {
	tags := append([]string{"list:" + strings.TrimPrefix(op, "get_")}, extra...)
	return tags
}
