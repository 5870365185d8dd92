// Package journal persists mirror traffic to SQLite and replays it.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/dommirror/dbopen"
	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/mirror"
)

// Schema for the mirror_journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS mirror_journal (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	direction TEXT NOT NULL,
	method TEXT NOT NULL,
	call_id INTEGER,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mirror_journal_seq ON mirror_journal(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_mirror_journal_call ON mirror_journal(session_id, call_id) WHERE call_id IS NOT NULL;
`

// Entry is one recorded message.
type Entry struct {
	ID        string
	Session   string
	Seq       int64
	Direction mirror.Direction
	Method    mirror.Method
	CallID    mirror.CallID
	Message   mirror.Message
	CreatedAt time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithBuffer sets how many entries may wait for the writer before Record
// starts dropping. Default 1024.
func WithBuffer(n int) Option {
	return func(j *Journal) { j.buffer = n }
}

// WithIDGenerator overrides entry ids. Default: UUIDv7.
func WithIDGenerator(g idgen.Generator) Option {
	return func(j *Journal) { j.newID = g }
}

type item struct {
	entry   *Entry
	flushed chan struct{}
}

// Journal implements mirror.Recorder. Record never blocks the agent:
// entries are written in batches by a background goroutine and dropped
// when the buffer is full.
type Journal struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
	buffer int
	newID  idgen.Generator

	mu   sync.Mutex
	seqs map[string]int64

	ch      chan item
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Open opens (or creates) a journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	j, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// New uses an already open database. The schema is applied; the database
// is not closed by Close.
func New(db *sql.DB, opts ...Option) (*Journal, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	j := &Journal{
		db:     db,
		logger: slog.Default(),
		buffer: 1024,
		newID:  idgen.UUIDv7(),
		seqs:   make(map[string]int64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	j.ch = make(chan item, j.buffer)
	go j.writeLoop()
	return j, nil
}

// Record queues msg. Sequence numbers are assigned here, so entries keep
// the order the agent saw them in.
func (j *Journal) Record(_ context.Context, session string, dir mirror.Direction, msg mirror.Message) {
	j.mu.Lock()
	j.seqs[session]++
	seq := j.seqs[session]
	j.mu.Unlock()

	e := &Entry{
		ID:        j.newID(),
		Session:   session,
		Seq:       seq,
		Direction: dir,
		Method:    msg.Method,
		CallID:    callIDOf(msg),
		Message:   msg,
		CreatedAt: time.Now(),
	}
	select {
	case <-j.quit:
		j.dropped.Add(1)
		return
	default:
	}
	select {
	case j.ch <- item{entry: e}:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("journal: buffer full, dropping entries", "dropped", n)
		}
	}
}

// Dropped reports how many entries were lost to a full buffer.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Flush waits until every entry recorded before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	it := item{flushed: make(chan struct{})}
	select {
	case j.ch <- it:
	case <-j.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-it.flushed:
		return nil
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes pending entries and stops the writer. The database is
// closed only if the journal opened it.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		close(j.quit)
		<-j.done
		if j.owned {
			err = j.db.Close()
		}
	})
	return err
}

func (j *Journal) writeLoop() {
	defer close(j.done)

	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case it := <-j.ch:
			batch = j.take(batch, it)
		case <-j.quit:
			for {
				select {
				case it := <-j.ch:
					batch = j.take(batch, it)
				default:
					j.write(batch)
					return
				}
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.write(batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) take(batch []*Entry, it item) []*Entry {
	if it.flushed != nil {
		j.write(batch)
		close(it.flushed)
		return batch[:0]
	}
	batch = append(batch, it.entry)
	if len(batch) >= 64 {
		j.write(batch)
		return batch[:0]
	}
	return batch
}

func (j *Journal) write(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	err := dbopen.RunTx(context.Background(), j.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO mirror_journal
			(id, session_id, seq, direction, method, call_id, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("journal: prepare: %w", err)
		}
		defer stmt.Close()
		for _, e := range batch {
			body, err := json.Marshal(e.Message)
			if err != nil {
				return fmt.Errorf("journal: encode %s: %w", e.Method, err)
			}
			var callID any
			if e.CallID != 0 {
				callID = int64(e.CallID)
			}
			if _, err := stmt.Exec(e.ID, e.Session, e.Seq, string(e.Direction), string(e.Method),
				callID, string(body), e.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("journal: insert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		j.logger.Error("journal: write batch", "entries", len(batch), "error", err)
	}
}

func callIDOf(m mirror.Message) mirror.CallID {
	if !m.Method.IsReply() && m.Method.ReplyMethod() == "" {
		return 0
	}
	var id mirror.CallID
	if _, err := m.Arg(0, &id); err != nil {
		return 0
	}
	return id
}
