package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/mirror"
)

// Config configures a Feed.
type Config struct {
	Sink      Sink
	Window    time.Duration
	MaxBuffer int
	// Render, if set, serialises inserted subtrees into Record.HTML.
	Render func(*mirror.Node) string
	// NewID generates batch ids. Default: UUIDv7.
	NewID  idgen.Generator
	Logger *slog.Logger
}

var watched = []mirror.EventType{
	mirror.EventContentLoaded,
	mirror.EventNodeInserted,
	mirror.EventNodeRemoved,
	mirror.EventAttrModified,
	mirror.EventCharacterDataModified,
}

// Feed is a mirror.Listener. HandleEvent runs on the agent goroutine and
// only queues; Run does the batching and delivery.
type Feed struct {
	cfg    Config
	logger *slog.Logger
	in     chan Record

	mu      sync.Mutex
	session string
	docs    map[*mirror.Document]bool

	seq     uint64
	dropped int
}

// New creates a feed. Nothing is delivered until Run is called.
func New(cfg Config) *Feed {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.UUIDv7()
	}
	if cfg.Sink == nil {
		cfg.Sink = NewRouter(cfg.Logger)
	}
	buf := cfg.MaxBuffer
	if buf <= 0 {
		buf = 1000
	}
	return &Feed{
		cfg:    cfg,
		logger: cfg.Logger,
		in:     make(chan Record, 4*buf),
		docs:   make(map[*mirror.Document]bool),
	}
}

// Attach starts listening to doc, the document of session. Records from
// an earlier session are flushed before a doc_reset record opens the new
// one.
func (f *Feed) Attach(session string, doc *mirror.Document) {
	f.mu.Lock()
	prev := f.session
	f.session = session
	already := f.docs[doc]
	f.docs[doc] = true
	f.mu.Unlock()

	if !already {
		for _, typ := range watched {
			doc.AddEventListener(typ, f)
		}
	}
	if prev != "" && prev != session {
		f.queue(Record{Op: OpDocReset, session: session})
	}
}

// Detach stops listening to doc.
func (f *Feed) Detach(doc *mirror.Document) {
	f.mu.Lock()
	delete(f.docs, doc)
	f.mu.Unlock()
	for _, typ := range watched {
		doc.RemoveEventListener(typ, f)
	}
}

// HandleEvent implements mirror.Listener.
func (f *Feed) HandleEvent(e *mirror.Event) {
	n := e.Target
	if n == nil {
		return
	}
	rec := Record{Node: n.ID(), Kind: n.Kind(), Name: n.Name()}
	if e.RelatedNode != nil {
		rec.Parent = e.RelatedNode.ID()
	}
	switch e.Type {
	case mirror.EventContentLoaded:
		el := n.OwnerDocument().DocumentElement()
		if el == nil {
			return
		}
		rec = Record{Op: OpLoaded, Node: el.ID(), Kind: el.Kind(), Name: el.Name(), Path: path(el)}
	case mirror.EventNodeInserted:
		rec.Op = OpInsert
		rec.Path = path(n)
		rec.Value = n.Value()
		if f.cfg.Render != nil {
			rec.HTML = f.cfg.Render(n)
		}
	case mirror.EventNodeRemoved:
		rec.Op = OpRemove
		rec.Path = path(n)
	case mirror.EventCharacterDataModified:
		rec.Op = OpText
		rec.Path = path(n)
		rec.Value = n.Value()
	case mirror.EventAttrModified:
		rec.Path = path(n)
		if e.AttrName == "" {
			rec.Op = OpAttr
			rec.Attrs = make(map[string]string)
			for _, a := range n.Attributes() {
				rec.Attrs[a.Name] = a.Value
			}
			break
		}
		rec.Attr = e.AttrName
		if v, ok := n.GetAttribute(e.AttrName); ok {
			rec.Op = OpAttr
			rec.Value = v
		} else {
			rec.Op = OpAttrDel
		}
	default:
		return
	}
	f.mu.Lock()
	rec.session = f.session
	f.mu.Unlock()
	f.queue(rec)
}

func (f *Feed) queue(rec Record) {
	select {
	case f.in <- rec:
	default:
		f.mu.Lock()
		f.dropped++
		n := f.dropped
		f.mu.Unlock()
		if n == 1 || n%100 == 0 {
			f.logger.Warn("feed: queue full, dropping records", "dropped", n)
		}
	}
}

// Run batches records and delivers them until ctx is done. Buffered
// records are flushed before it returns.
func (f *Feed) Run(ctx context.Context) error {
	var (
		session string
		d       *debouncer
	)
	d = newDebouncer(debounceConfig{Window: f.cfg.Window, MaxBuffer: f.cfg.MaxBuffer}, func(recs []Record) {
		f.emit(ctx, session, recs)
	})
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		case rec := <-f.in:
			if rec.session != session {
				d.flush()
				session = rec.session
			}
			d.add(rec)
		case <-d.timerC():
			d.flush()
		}
	}
}

func (f *Feed) emit(ctx context.Context, session string, recs []Record) {
	f.seq++
	batch := Batch{
		ID:        f.cfg.NewID(),
		Session:   session,
		Seq:       f.seq,
		Records:   recs,
		Timestamp: time.Now().UnixMilli(),
	}
	// The final flush runs after ctx is done.
	sendCtx := context.WithoutCancel(ctx)
	if err := f.cfg.Sink.Send(sendCtx, batch); err != nil {
		f.logger.Error("feed: deliver batch", "batch", batch.ID, "records", len(recs), "error", err)
	}
}

// Close closes the sink.
func (f *Feed) Close() error { return f.cfg.Sink.Close() }
