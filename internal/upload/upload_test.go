package upload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/wingdesk/internal/api"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func names(files []api.UploadFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	sort.Strings(out)
	return out
}

func TestCollectSkipsVCSAndDeps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.js"), "console.log(1)")
	writeFile(t, filepath.Join(root, "src", "app.js"), "app")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "x")
	writeFile(t, filepath.Join(root, "src", "node_modules", "y.js"), "y")

	files, err := Collect(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.js", "src/app.js"}, names(files))
	for _, f := range files {
		if f.Name == "src/app.js" {
			assert.Equal(t, "app", string(f.Content))
		}
	}
}

func TestCollectErrors(t *testing.T) {
	_, err := Collect(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, file, "x")
	_, err = Collect(file)
	require.Error(t, err)
}

func TestCollectEmptyDir(t *testing.T) {
	files, err := Collect(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWatcherReuploadsAfterChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	uploads := make(chan []api.UploadFile, 4)
	w := &Watcher{
		Root:     root,
		Debounce: 50 * time.Millisecond,
		Upload: func(ctx context.Context, files []api.UploadFile) error {
			uploads <- files
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "c.txt"), "c")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case files := <-uploads:
			if len(files) == 3 {
				assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names(files))
				return
			}
		case <-deadline:
			t.Fatal("no re-upload after change")
		}
	}
}

func TestWatcherIgnoresSkippedDirs(t *testing.T) {
	w := &Watcher{Root: "/p"}
	assert.True(t, w.ignored("/p/.git/index"))
	assert.True(t, w.ignored("/p/web/node_modules/x.js"))
	assert.False(t, w.ignored("/p/src/main.go"))
}
