package monitor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"go.uber.org/zap"
)

// MaxWatches caps the number of directories a single tree will register.
const MaxWatches = 1024

// WatchNode mirrors one watched directory. Children are owned exclusively by
// their parent and appear in directory-read order.
type WatchNode struct {
	Path     string
	Children []*WatchNode
}

// WatchTree registers one watch per directory under a root and mirrors the
// directory hierarchy. It is rebuilt wholesale whenever the hierarchy changes;
// there is no incremental insertion or removal in steady state.
type WatchTree struct {
	root  *WatchNode
	nodes map[string]*WatchNode
}

// BuildWatchTree walks the directory hierarchy under root depth-first and
// registers every non-hidden directory with the watcher. It fails on the first
// registration or read error: a partial watch set would silently miss changes,
// so the caller is expected to treat any error as fatal.
func BuildWatchTree(watcher *fsnotify.Watcher, root string, includeHidden bool, logger *zap.Logger) (*WatchTree, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tree := &WatchTree{nodes: make(map[string]*WatchNode)}

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			if path != root && !includeHidden && strings.HasPrefix(de.Name(), ".") {
				return filepath.SkipDir
			}
			if len(tree.nodes) >= MaxWatches {
				return fmt.Errorf("too many directories, max is %d", MaxWatches)
			}

			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watching directory %s: %w", path, err)
			}

			node := &WatchNode{Path: path}
			if path == root {
				tree.root = node
			} else {
				parent, ok := tree.nodes[filepath.Dir(path)]
				if !ok {
					return fmt.Errorf("no watch registered for parent of %s", path)
				}
				parent.Children = append(parent.Children, node)
			}
			tree.nodes[path] = node

			logger.Debug("watching directory", zap.String("path", path))
			return nil
		},
	})
	if err != nil {
		// Release whatever was registered before the failure so a retry
		// or shutdown starts from a clean slate.
		tree.Teardown(watcher)
		return nil, err
	}
	if tree.root == nil {
		return nil, fmt.Errorf("cannot open root directory %s", root)
	}
	return tree, nil
}

// Teardown releases every watch post-order and empties the tree. It is
// idempotent: tearing down a nil or already-empty tree is a no-op, and the
// tree is safe to tear down again after a partial build.
func (t *WatchTree) Teardown(watcher *fsnotify.Watcher) {
	if t == nil || t.root == nil {
		return
	}
	t.release(watcher, t.root)
	t.root = nil
	t.nodes = make(map[string]*WatchNode)
}

func (t *WatchTree) release(watcher *fsnotify.Watcher, node *WatchNode) {
	for _, child := range node.Children {
		t.release(watcher, child)
	}
	node.Children = nil
	// The directory may already be gone; fsnotify drops its watch with it,
	// so a remove error here is expected during structural rebuilds.
	_ = watcher.Remove(node.Path)
}

// NodeCount returns the number of watched directories. It equals the number
// of active watch registrations by construction.
func (t *WatchTree) NodeCount() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Contains reports whether path is a currently watched directory. Remove and
// rename notifications carry no file type, so this is how the dispatcher
// recognizes them as structural.
func (t *WatchTree) Contains(path string) bool {
	if t == nil {
		return false
	}
	_, ok := t.nodes[path]
	return ok
}
