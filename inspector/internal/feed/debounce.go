package feed

import "time"

type debounceConfig struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 250 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer collects records and emits compressed groups when the window
// expires or the buffer fills.
type debouncer struct {
	cfg     debounceConfig
	records []Record
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]Record)
}

func newDebouncer(cfg debounceConfig, flushFn func([]Record)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		records: make([]Record, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers a record. It reports whether the buffer filled and was
// flushed.
func (d *debouncer) add(rec Record) bool {
	d.records = append(d.records, rec)

	if len(d.records) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires; nil while nothing is buffered.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.records) == 0 {
		return
	}
	d.flushFn(compress(d.records))
	d.records = make([]Record, 0, d.cfg.MaxBuffer)
}

// compress keeps the last of consecutive attr records on the same
// (node, attr) and of consecutive text records on the same node. Structural
// records are never merged.
func compress(records []Record) []Record {
	if len(records) <= 1 {
		return records
	}

	result := make([]Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		switch rec.Op {
		case OpAttr, OpText:
			j := i + 1
			for j < len(records) &&
				records[j].Op == rec.Op &&
				records[j].Node == rec.Node &&
				records[j].Attr == rec.Attr {
				rec = records[j]
				j++
			}
			result = append(result, rec)
			i = j - 1
		default:
			result = append(result, rec)
		}
	}
	return result
}
