// Package eventlog implements the append-only, strictly-ordered event log
// (spec §4.i): an in-process ring for fast reads, asynchronous sqlite
// persistence through a bounded write queue, and SSE fan-out to subscribers.
package eventlog

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/db"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Log is the process-wide append-only event log. Construct with New and
// keep it in internal/env.EventLog.
type Log struct {
	db       *sql.DB
	ringSize int

	mu       sync.RWMutex
	ring     []model.EventRecord
	nextID   int64

	writeQueueMax int
	writeCh       chan model.EventRecord

	subMu sync.Mutex
	subs  map[chan model.EventRecord]struct{}

	sseQueueMax int

	writerDone chan struct{}
}

// New constructs a Log backed by conn and starts its background writer.
// ringSize, writeQueueMax, and sseQueueMax come straight from
// config.EventLog. nextID is seeded from the highest ID already persisted,
// so a restart never hands out an ID that collides with — or falls behind
// — what's already on disk.
func New(conn *sql.DB, ringSize, writeQueueMax, sseQueueMax int) *Log {
	maxID, err := db.MaxEventID(conn)
	if err != nil {
		log.Error().Err(err).Msg("failed to seed event log id counter, starting from 0")
	}

	l := &Log{
		db:            conn,
		ringSize:      ringSize,
		nextID:        maxID,
		writeQueueMax: writeQueueMax,
		writeCh:       make(chan model.EventRecord, writeQueueMax),
		subs:          make(map[chan model.EventRecord]struct{}),
		sseQueueMax:   sseQueueMax,
		writerDone:    make(chan struct{}),
	}
	go l.runWriter()
	return l
}

// Close stops accepting new writes and blocks until every already-queued
// event has been persisted, so a shutdown doesn't lose the tail of the log.
func (l *Log) Close() error {
	close(l.writeCh)
	<-l.writerDone
	return nil
}

// Append records a new event: assigns a strictly increasing ID and the
// current time, mirrors into the ring, enqueues a persistence write, and
// fans out to subscribers. The writer is never blocked longer than this
// one in-memory append.
func (l *Log) Append(level model.EventLevel, kind model.EventKind, message string) model.EventRecord {
	l.mu.Lock()
	l.nextID++
	rec := model.EventRecord{
		ID:      l.nextID,
		TS:      time.Now(),
		Level:   level,
		Kind:    kind,
		Message: message,
	}
	l.ring = append(l.ring, rec)
	if len(l.ring) > l.ringSize {
		l.ring = l.ring[len(l.ring)-l.ringSize:]
	}
	l.mu.Unlock()

	l.enqueueWrite(rec)
	l.fanOut(rec)

	return rec
}

// enqueueWrite drops INFO events when the write queue is saturated but
// never drops WARN/ERR, per spec §7 StorageFull.
func (l *Log) enqueueWrite(rec model.EventRecord) {
	select {
	case l.writeCh <- rec:
	default:
		if rec.Level == model.LevelInfo {
			log.Warn().Msg("event write queue full, dropping INFO event")
			return
		}
		// WARN/ERR must land: block briefly rather than lose it.
		l.writeCh <- rec
	}
}

func (l *Log) runWriter() {
	defer close(l.writerDone)
	for rec := range l.writeCh {
		if _, err := db.InsertEvent(l.db, rec); err != nil {
			log.Error().Err(err).Int64("event_id", rec.ID).Msg("failed to persist event")
		}
	}
}

// Page returns events newest-first. It serves from the in-process ring
// when the requested window fits inside it, else falls through to sqlite.
func (l *Log) Page(offset, limit int) ([]model.EventRecord, error) {
	l.mu.RLock()
	ringLen := len(l.ring)
	if offset+limit <= ringLen {
		out := make([]model.EventRecord, 0, limit)
		for i := ringLen - 1 - offset; i >= 0 && len(out) < limit; i-- {
			out = append(out, l.ring[i])
		}
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	return db.GetEventPage(l.db, offset, limit)
}

// Count returns the total number of persisted events, for pagination.
func (l *Log) Count() (int, error) {
	return db.CountEvents(l.db)
}

// Subscribe registers a new SSE listener. The returned cancel func must be
// called when the client disconnects.
func (l *Log) Subscribe() (<-chan model.EventRecord, func()) {
	ch := make(chan model.EventRecord, l.sseQueueMax)

	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()

	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (l *Log) fanOut(rec model.EventRecord) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- rec:
		default:
			log.Warn().Msg("SSE subscriber queue full, dropping subscriber")
			delete(l.subs, ch)
			close(ch)
		}
	}
}
