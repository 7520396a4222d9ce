package docbase

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localdb/docbase/streamfile"
)

// DocumentEngine is the database facade: it owns one data file, its meta
// sidecar, its counter, and the pending queues a scheduler drains. A
// *DocumentEngine is also what QueryBuilder.Table points at, and what
// SchemaTable embeds to gain table-row semantics.
type DocumentEngine struct {
	Name string
	dir  string
	opt  Options
	ev   *events

	schema  *Schema // nil for a free-form JSON document engine, or a table awaiting Extend
	isTable bool    // true for an engine opened via DB.Table, even before a schema exists

	mu      sync.Mutex
	wake    chan struct{}
	closed  bool
	writing bool
	reading bool

	pendingAppend  []*appendJob
	pendingUpdate  []*mutateJob
	pendingRemove  []*mutateJob
	pendingReader  []*readerJob
	pendingReverse []*readerJob
	pendingMaint   []*maintJob
	pendingLock    []*lockJob

	parseErrors uint64
	stats       Stats
}

// Stats reports lightweight, best-effort counters about an engine's data
// file. Only ParseErrors is maintained (by reader and update passes);
// LiveRows, TombstonedRows and FileSize are not updated by any pass and
// stay zero.
type Stats struct {
	LiveRows       int64
	TombstonedRows int64
	FileSize       int64
	ParseErrors    uint64
}

func newEngine(name, dir string, schema *Schema, opt Options, ev *events) *DocumentEngine {
	e := &DocumentEngine{
		Name:   name,
		dir:    dir,
		opt:    opt,
		ev:     ev,
		schema: schema,
		wake:   make(chan struct{}, 1),
	}
	go e.loop()
	return e
}

func (e *DocumentEngine) dataPath() string {
	if e.isTable {
		return filepath.Join(e.dir, e.Name+".table")
	}
	return filepath.Join(e.dir, e.Name+".nosql")
}

func (e *DocumentEngine) backupPath() string {
	if e.isTable {
		return filepath.Join(e.dir, e.Name+".table-backup")
	}
	return filepath.Join(e.dir, e.Name+".nosql-backup")
}

func (e *DocumentEngine) metaPath() string {
	if e.isTable {
		return filepath.Join(e.dir, e.Name+".table-meta")
	}
	return filepath.Join(e.dir, e.Name+".meta")
}

func (e *DocumentEngine) counterPath() string {
	if e.isTable {
		return filepath.Join(e.dir, e.Name+".table-counter2")
	}
	return filepath.Join(e.dir, e.Name+".nosql-counter2")
}

func (e *DocumentEngine) logPath() string {
	if e.isTable {
		return filepath.Join(e.dir, e.Name+".table-log")
	}
	return filepath.Join(e.dir, e.Name+".nosql-log")
}

func (e *DocumentEngine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the engine's counters (see Stats type).
func (e *DocumentEngine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ParseErrors = e.parseErrors
	return s
}

func (e *DocumentEngine) encodeLine(doc map[string]any) ([]byte, error) {
	if e.isTable {
		return encodeRow(e.schema, doc)
	}
	return encodeJSON(doc)
}

func (e *DocumentEngine) decodeLine(line []byte) (marker byte, doc map[string]any, err error) {
	if e.isTable {
		return decodeRow(e.schema, line, nil)
	}
	doc, err = decodeJSON(line)
	return markerLive, doc, err
}

func (e *DocumentEngine) isLive(marker byte) bool {
	if e.isTable {
		return marker == markerLive || marker == markerEscaped
	}
	return marker != markerTomb
}

// tombstoneLine flips a live line's leading byte to markerTomb while
// preserving every other byte, the byte-length-preserving delete
// spec §4.5's remove path relies on.
func tombstoneLine(line []byte) []byte {
	out := make([]byte, len(line))
	copy(out, line)
	out[0] = markerTomb
	return out
}

func (e *DocumentEngine) logf(format string, args ...any) {
	if e.opt.Verbose {
		e.opt.Logger.Debug(fmt.Sprintf(format, args...))
	}
}

// appendLogLine appends a human-readable trace line to the optional
// operation log, best-effort (spec §7: "Log files ... are best-effort").
func (e *DocumentEngine) appendLogLine(line string) {
	if !e.opt.EnableLog {
		return
	}
	f, err := os.OpenFile(e.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s | %s\n", time.Now().Format("2006-01-02 15:04:05"), line)
}

// appendBackupLine writes the pre-change line to the backup sidecar
// before tombstoning it, per the §6 grammar.
func (e *DocumentEngine) appendBackupLine(original []byte) {
	if !e.opt.EnableBackup {
		return
	}
	f, err := os.OpenFile(e.backupPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	ts := time.Now().Format("2006-01-02 15:04")
	fmt.Fprintf(f, "%s | %s | %s\n", ts, rpad(e.opt.BackupUser, 20), original)
}

// runAppendBatch implements spec §4.5's append path: jobs queued together
// by the scheduler are chunked into batches of at most
// Options.AppendBatchSize records (default 20, 40 in worker mode), and
// each chunk gets its own append_file-equivalent write-then-flush pass,
// so a burst of N concurrent appends becomes ceil(N/batchSize) I/O
// passes rather than N.
func (e *DocumentEngine) runAppendBatch(jobs []*appendJob) {
	e.logf("docbase: APPEND %s x%d", e.Name, len(jobs))
	us, err := streamfile.OpenUpdate(e.dataPath(), streamfile.WithLogger(e.opt.Logger))
	if err != nil {
		e.failAppend(jobs, err)
		return
	}
	defer us.Close()

	batchSize := e.opt.AppendBatchSize
	if batchSize <= 0 {
		batchSize = defaultAppendBatchSize
	}
	for start := 0; start < len(jobs); start += batchSize {
		end := start + batchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		chunk := jobs[start:end]

		for _, j := range chunk {
			line, err := e.encodeLine(j.doc)
			if err != nil {
				j.done(err)
				continue
			}
			if err := us.WriteAppend(append(line, '\n')); err != nil {
				e.failAppend(chunk, err)
				return
			}
			e.ev.emit(Event{Op: OpInsert, Table: e.Name, Doc: j.doc})
		}
		if err := us.Flush(); err != nil {
			e.failAppend(chunk, err)
			return
		}
		for _, j := range chunk {
			j.done(nil)
		}
	}
	e.appendLogLine(fmt.Sprintf("APPEND %d docs", len(jobs)))
}

func (e *DocumentEngine) failAppend(jobs []*appendJob, err error) {
	for _, j := range jobs {
		j.done(ioErrf("append", e.dataPath(), err))
	}
}

// runUpdatePass implements spec §4.5's update path: one forward pass
// evaluates every pending job's predicate against every live document,
// applies the first matching job's mutation (set/merge/increment), and
// re-encodes; equal-length results are written in place, others
// tombstone-and-append.
func (e *DocumentEngine) runUpdatePass(jobs []*mutateJob, isRemove bool) {
	if isRemove {
		e.logf("docbase: REMOVE %s x%d jobs", e.Name, len(jobs))
	} else {
		e.logf("docbase: UPDATE %s x%d jobs", e.Name, len(jobs))
	}
	path := e.dataPath()
	us, err := streamfile.OpenUpdate(path, streamfile.WithLogger(e.opt.Logger))
	if err != nil {
		e.failMutate(jobs, err)
		return
	}
	defer us.Close()

	counts := make([]int, len(jobs))
	firstDone := make([]bool, len(jobs))
	var appends [][]byte

	runErr := us.Run(func(batch streamfile.Batch) (bool, error) {
		for _, ln := range batch {
			marker := byte(0)
			if len(ln.Text) > 0 {
				marker = ln.Text[0]
			}
			if !e.isLive(marker) {
				continue
			}
			_, doc, derr := e.decodeLine(ln.Text)
			if derr != nil {
				e.parseErrors++
				continue
			}

			for ji, j := range jobs {
				if j.query.first && firstDone[ji] {
					continue
				}
				if !j.query.compiled().eval(doc) {
					continue
				}
				firstDone[ji] = true
				counts[ji]++

				if isRemove {
					e.appendBackupLine(ln.Text)
					if err := us.WriteAt([]byte{markerTomb}, ln.Pos); err != nil {
						return true, err
					}
					e.ev.emit(Event{Op: OpRemove, Table: e.Name, Doc: doc})
					break
				}

				newDoc := e.applyMutation(j, doc)
				newLine, eerr := e.encodeLine(newDoc)
				if eerr != nil {
					return true, eerr
				}
				if len(newLine) == ln.Len {
					if err := us.WriteAt(newLine, ln.Pos); err != nil {
						return true, err
					}
				} else {
					if err := us.WriteAt(tombstoneLine(ln.Text), ln.Pos); err != nil {
						return true, err
					}
					appends = append(appends, append(newLine, '\n'))
				}
				e.ev.emit(Event{Op: OpUpdate, Table: e.Name, Doc: newDoc, OldDoc: doc})
				break
			}
		}
		return false, nil
	})
	if runErr != nil {
		e.failMutate(jobs, runErr)
		return
	}
	for _, a := range appends {
		if err := us.WriteAppend(a); err != nil {
			e.failMutate(jobs, err)
			return
		}
	}
	if err := us.Flush(); err != nil {
		e.failMutate(jobs, err)
		return
	}

	for ji, j := range jobs {
		j.done(nil, counts[ji])
		if counts[ji] == 0 && j.query.insertOn != nil {
			e.SubmitAppend(j.query.insertOn, func(error) {})
		}
	}
}

func (e *DocumentEngine) applyMutation(j *mutateJob, doc map[string]any) map[string]any {
	q := j.query
	if q.replaceFn != nil {
		return q.replaceFn(doc)
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range q.merge {
		out[k] = v
	}
	for field, delta := range q.incr {
		cur, _ := toFloat(out[field])
		out[field] = cur + delta
	}
	return out
}

func (e *DocumentEngine) failMutate(jobs []*mutateJob, err error) {
	for _, j := range jobs {
		j.done(ioErrf("update", e.dataPath(), err), 0)
	}
}

func (e *DocumentEngine) failReaders(jobs []*readerJob, err error) {
	for _, j := range jobs {
		j.done(ioErrf("read", e.dataPath(), err), readResult{})
	}
}
