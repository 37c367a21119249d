package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

// makeDirTree lays out a small hierarchy and returns the root and the number
// of directories in it (root included).
func makeDirTree(t *testing.T) (string, int) {
	t.Helper()
	root := t.TempDir()

	dirs := []string{
		"sub1",
		"sub2",
		filepath.Join("sub1", "nested"),
		filepath.Join("sub1", "nested", "deep"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", d, err)
		}
	}

	// Files should not contribute nodes.
	for _, f := range []string{"a.c", filepath.Join("sub1", "b.md")} {
		if err := os.WriteFile(filepath.Join(root, f), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create file %s: %v", f, err)
		}
	}

	return root, len(dirs) + 1
}

func newTestWatcher(t *testing.T) *fsnotify.Watcher {
	t.Helper()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	t.Cleanup(func() { watcher.Close() })
	return watcher
}

func TestBuildWatchTreeCountsDirectories(t *testing.T) {
	root, want := makeDirTree(t)
	watcher := newTestWatcher(t)

	tree, err := BuildWatchTree(watcher, root, false, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree: %v", err)
	}
	defer tree.Teardown(watcher)

	if got := tree.NodeCount(); got != want {
		t.Errorf("NodeCount() = %d, want %d", got, want)
	}
	if !tree.Contains(root) {
		t.Error("tree should contain the root")
	}
	if !tree.Contains(filepath.Join(root, "sub1", "nested", "deep")) {
		t.Error("tree should contain the deepest directory")
	}
	if tree.Contains(filepath.Join(root, "a.c")) {
		t.Error("tree should not contain a file")
	}
}

func TestBuildWatchTreeSkipsHidden(t *testing.T) {
	root, want := makeDirTree(t)
	if err := os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755); err != nil {
		t.Fatalf("Failed to create hidden directory: %v", err)
	}
	watcher := newTestWatcher(t)

	tree, err := BuildWatchTree(watcher, root, false, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree: %v", err)
	}
	defer tree.Teardown(watcher)

	if got := tree.NodeCount(); got != want {
		t.Errorf("NodeCount() = %d, want %d (hidden directories skipped)", got, want)
	}
	if tree.Contains(filepath.Join(root, ".git")) {
		t.Error("hidden directory should not be watched")
	}
}

func TestBuildWatchTreeIncludeHidden(t *testing.T) {
	root, want := makeDirTree(t)
	if err := os.Mkdir(filepath.Join(root, ".cache"), 0755); err != nil {
		t.Fatalf("Failed to create hidden directory: %v", err)
	}
	watcher := newTestWatcher(t)

	tree, err := BuildWatchTree(watcher, root, true, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree: %v", err)
	}
	defer tree.Teardown(watcher)

	if got := tree.NodeCount(); got != want+1 {
		t.Errorf("NodeCount() = %d, want %d", got, want+1)
	}
}

func TestBuildWatchTreeMissingRoot(t *testing.T) {
	watcher := newTestWatcher(t)
	if _, err := BuildWatchTree(watcher, filepath.Join(t.TempDir(), "nope"), false, nil); err == nil {
		t.Error("expected an error for a missing root")
	}
}

func TestTeardownIdempotent(t *testing.T) {
	root, _ := makeDirTree(t)
	watcher := newTestWatcher(t)

	tree, err := BuildWatchTree(watcher, root, false, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree: %v", err)
	}

	tree.Teardown(watcher)
	if tree.NodeCount() != 0 {
		t.Errorf("NodeCount() after teardown = %d, want 0", tree.NodeCount())
	}

	// Double teardown and teardown of a nil tree must both be no-ops.
	tree.Teardown(watcher)

	var nilTree *WatchTree
	nilTree.Teardown(watcher)
	if nilTree.NodeCount() != 0 {
		t.Error("nil tree should report zero nodes")
	}
}

func TestTeardownThenRebuildSameCount(t *testing.T) {
	root, want := makeDirTree(t)
	watcher := newTestWatcher(t)

	tree, err := BuildWatchTree(watcher, root, false, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree: %v", err)
	}

	tree.Teardown(watcher)

	rebuilt, err := BuildWatchTree(watcher, root, false, nil)
	if err != nil {
		t.Fatalf("BuildWatchTree after teardown: %v", err)
	}
	defer rebuilt.Teardown(watcher)

	if got := rebuilt.NodeCount(); got != want {
		t.Errorf("NodeCount() after rebuild = %d, want %d", got, want)
	}
}
