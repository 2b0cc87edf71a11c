package eventlog

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/db"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Reader is a read-only view of the event log for a process that doesn't
// own the write side (the webui binary, reading the same sqlite file the
// actuator's Log writes to). It polls for new rows instead of fanning out
// in-process appends.
type Reader struct {
	db *sql.DB

	subMu  sync.Mutex
	subs   map[chan model.EventRecord]struct{}
	maxID  int64
	maxMu  sync.RWMutex
}

// NewReader constructs a Reader and starts its polling loop.
func NewReader(ctx context.Context, conn *sql.DB, pollInterval time.Duration) *Reader {
	r := &Reader{
		db:   conn,
		subs: make(map[chan model.EventRecord]struct{}),
	}
	go r.poll(ctx, pollInterval)
	return r
}

// Page returns events newest-first from sqlite.
func (r *Reader) Page(offset, limit int) ([]model.EventRecord, error) {
	return db.GetEventPage(r.db, offset, limit)
}

// Count returns the total number of persisted events.
func (r *Reader) Count() (int, error) {
	return db.CountEvents(r.db)
}

// Subscribe registers a new SSE listener fed by the polling loop.
func (r *Reader) Subscribe() (<-chan model.EventRecord, func()) {
	ch := make(chan model.EventRecord, 8)

	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		delete(r.subs, ch)
		r.subMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (r *Reader) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			page, err := r.Page(0, 20)
			if err != nil {
				log.Warn().Err(err).Msg("event reader poll failed")
				continue
			}
			r.notifyNew(page)
		}
	}
}

func (r *Reader) notifyNew(newestFirst []model.EventRecord) {
	r.maxMu.Lock()
	seen := r.maxID
	var highest int64
	var fresh []model.EventRecord
	for _, rec := range newestFirst {
		if rec.ID > seen {
			fresh = append(fresh, rec)
		}
		if rec.ID > highest {
			highest = rec.ID
		}
	}
	if highest > r.maxID {
		r.maxID = highest
	}
	r.maxMu.Unlock()

	if len(fresh) == 0 {
		return
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, rec := range fresh {
		for ch := range r.subs {
			select {
			case ch <- rec:
			default:
			}
		}
	}
}
