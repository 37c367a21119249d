// Package monitor watches a directory tree and runs a shell command when a
// change matching a set of glob patterns occurs.
//
// The package keeps one watch registration per directory in a WatchTree that
// mirrors the hierarchy. A single fsnotify watcher backs every registration;
// the event loop debounces bursts of notifications so that one filesystem
// operation touching many files produces at most one downstream action.
// Structural changes (a directory created, removed, or moved) rebuild the
// whole tree instead of patching it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the drain window used when Options.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// EventKind names the change that triggered a command, for log output and
// the {event} command placeholder.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventModify EventKind = "modify"
	EventDelete EventKind = "delete"
)

// fsEvent is the loop's view of one notification: the affected path plus the
// kind it was classified as. It is consumed inside the drain and never kept.
type fsEvent struct {
	path string
	kind EventKind
}

// Options configures a Monitor.
type Options struct {
	// Root is the directory to watch. Defaults to the current directory.
	Root string

	// Command is the shell command executed on a matching change. Placeholders
	// ({}, {base}, {dir}, {event}) are expanded per event before execution.
	Command string

	// Patterns are glob patterns matched against changed file names. Empty
	// means every change matches.
	Patterns []string

	// Debounce is how long the drain waits for further notifications before
	// deciding a burst has ended.
	Debounce time.Duration

	// IncludeHidden watches directories whose names start with a dot.
	IncludeHidden bool

	// Logger receives structured progress and diagnostics. Defaults to a nop.
	Logger *zap.Logger

	// Runner executes the expanded command. Defaults to running it through
	// the shell; tests inject their own.
	Runner CommandRunner
}

// Monitor owns the pattern set, the watch tree, and the event source for one
// watched root. All fields are mutated only from the goroutine running the
// event loop; Close must not be called while Run is still executing.
type Monitor struct {
	root          string
	command       string
	debounce      time.Duration
	includeHidden bool

	patterns *PatternSet
	watcher  *fsnotify.Watcher
	tree     *WatchTree
	runner   CommandRunner
	logger   *zap.Logger

	stats     Stats
	closeOnce sync.Once
}

// New compiles the patterns, opens the event source, and builds the initial
// watch tree. Any failure here is a setup error the caller should treat as
// fatal; a monitor without a complete watch set would silently miss changes.
func New(opts Options) (*Monitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		root:          filepath.Clean(opts.Root),
		command:       opts.Command,
		debounce:      opts.Debounce,
		includeHidden: opts.IncludeHidden,
		patterns:      NewPatternSet(opts.Patterns, logger),
		runner:        opts.Runner,
		logger:        logger,
	}
	if m.debounce <= 0 {
		m.debounce = DefaultDebounce
	}
	if m.runner == nil {
		m.runner = runShellCommand
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating event source: %w", err)
	}
	m.watcher = watcher

	tree, err := BuildWatchTree(watcher, m.root, m.includeHidden, logger)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	m.tree = tree

	return m, nil
}

// TreeSize returns the number of directories currently watched.
func (m *Monitor) TreeSize() int {
	return m.tree.NodeCount()
}

// Stats returns a snapshot of the dispatch counters.
func (m *Monitor) Stats() Stats {
	return m.stats.Snapshot()
}

// Close releases the watch tree and the event source. It is idempotent and
// safe to call on a partially constructed monitor; call it only after Run has
// returned.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		if m.tree != nil {
			m.tree.Teardown(m.watcher)
			m.tree = nil
		}
		if m.watcher != nil {
			m.watcher.Close()
			m.watcher = nil
		}
	})
}

// Burst outcomes. At most one action fires per burst: a structural event wins
// over a content match, and a burst with neither is discarded.
type outcomeKind int

const (
	outcomeDiscard outcomeKind = iota
	outcomeRun
	outcomeRebuild
)

type outcome struct {
	kind  outcomeKind
	event fsEvent
}

// Per-notification classification.
type class int

const (
	classIgnore class = iota
	classContent
	classStructural
)

// classify decides what one raw notification means. Create events are stated
// to learn whether they concern a directory; remove and rename events carry no
// file type, so a path is structural when it is a directory the tree watches.
func (m *Monitor) classify(ev fsnotify.Event) (class, fsEvent) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !m.includeHidden && strings.HasPrefix(filepath.Base(ev.Name), ".") {
				return classIgnore, fsEvent{}
			}
			return classStructural, fsEvent{path: ev.Name, kind: EventCreate}
		}
		return classContent, fsEvent{path: ev.Name, kind: EventCreate}
	case ev.Op.Has(fsnotify.Write):
		return classContent, fsEvent{path: ev.Name, kind: EventModify}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if m.tree.Contains(ev.Name) {
			return classStructural, fsEvent{path: ev.Name, kind: EventDelete}
		}
		if ev.Op.Has(fsnotify.Remove) {
			return classContent, fsEvent{path: ev.Name, kind: EventDelete}
		}
		return classIgnore, fsEvent{}
	default:
		// Chmod and anything fsnotify adds later.
		return classIgnore, fsEvent{}
	}
}

// Run executes the event loop until ctx is canceled or the event source
// fails. The loop blocks in an unbounded wait until a notification arrives,
// drains the burst it belongs to, performs at most one action for it, and
// returns to waiting. Command execution and tree rebuilds happen inline; a
// slow command delays the next burst rather than overlapping with it.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitoring",
		zap.String("root", m.root),
		zap.String("command", m.command),
		zap.Int("directories", m.tree.NodeCount()),
		zap.Int("patterns", m.patterns.CompiledLen()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return errors.New("event source closed")
			}
			return fmt.Errorf("waiting for events: %w", err)

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return errors.New("event source closed")
			}
			atomic.AddInt64(&m.stats.Bursts, 1)

			result := m.drain(ctx, ev)
			switch result.kind {
			case outcomeRebuild:
				if err := m.rebuild(); err != nil {
					return err
				}
			case outcomeRun:
				m.execute(ctx, result.event)
			default:
				atomic.AddInt64(&m.stats.Discards, 1)
			}

			if err := m.flush(); err != nil {
				return err
			}
		}
	}
}

// drain consumes the burst the first notification belongs to. A structural
// event ends the drain immediately with a rebuild, since the tree is already
// stale. A content match is remembered but draining continues, so a
// structural event later in the same burst still wins. The burst ends when
// the debounce window passes with no further notifications.
func (m *Monitor) drain(ctx context.Context, first fsnotify.Event) outcome {
	var matched *fsEvent

	consider := func(ev fsnotify.Event) *outcome {
		atomic.AddInt64(&m.stats.EventsSeen, 1)
		c, fe := m.classify(ev)
		switch c {
		case classStructural:
			return &outcome{kind: outcomeRebuild, event: fe}
		case classContent:
			if matched == nil && m.patterns.Matches(filepath.Base(fe.path)) {
				matched = &fe
			}
		}
		return nil
	}

	settle := func() outcome {
		if matched != nil {
			return outcome{kind: outcomeRun, event: *matched}
		}
		return outcome{}
	}

	if out := consider(first); out != nil {
		return *out
	}

	timer := time.NewTimer(m.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcome{}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return settle()
			}
			// A read error mid-burst ends the drain early with whatever
			// accumulated; the outer loop decides whether listening can
			// continue.
			m.logger.Warn("event source error during drain", zap.Error(err))
			return settle()

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return settle()
			}
			if out := consider(ev); out != nil {
				return *out
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.debounce)

		case <-timer.C:
			return settle()
		}
	}
}

// rebuild replaces the whole watch tree. Patching only the affected subtree
// is not attempted: a single notification cannot distinguish a moved
// directory from one that merely needs a new watch, so wholesale replacement
// is the race-free choice. Notifications for directories created between
// teardown and build can be missed; that window is accepted.
func (m *Monitor) rebuild() error {
	m.tree.Teardown(m.watcher)

	tree, err := BuildWatchTree(m.watcher, m.root, m.includeHidden, m.logger)
	if err != nil {
		return fmt.Errorf("rebuilding watch tree: %w", err)
	}
	m.tree = tree

	atomic.AddInt64(&m.stats.Rebuilds, 1)
	m.logger.Info("watch tree rebuilt", zap.Int("directories", tree.NodeCount()))
	return nil
}

// execute runs the configured command for the event that won the burst. The
// command's exit status does not stop the loop; a failing build is exactly
// what the user is iterating on.
func (m *Monitor) execute(ctx context.Context, ev fsEvent) {
	command := expandCommand(m.command, ev)
	m.logger.Info("running command",
		zap.String("command", command),
		zap.String("trigger", ev.path),
		zap.String("event", string(ev.kind)),
	)

	atomic.AddInt64(&m.stats.CommandRuns, 1)
	if err := m.runner(ctx, command); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("command failed", zap.Error(err))
	}
}

// flush discards notifications that queued up while the loop was acting on a
// burst, so a command that writes into the watched tree does not immediately
// retrigger itself. Structural notifications are the one thing that must not
// be dropped; seeing one forces a rebuild after the backlog is cleared.
func (m *Monitor) flush() error {
	var stale bool
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			atomic.AddInt64(&m.stats.EventsSeen, 1)
			if c, _ := m.classify(ev); c == classStructural {
				stale = true
			}
		default:
			if stale {
				return m.rebuild()
			}
			return nil
		}
	}
}
