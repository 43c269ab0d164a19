package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/camrec/internal/config"
)

const (
	watchBase = "server:\n  log_level: info\nrecording:\n  encoder: mock\n  path: out/a.mkv\n"
	watchEdit = "server:\n  log_level: debug\nrecording:\n  encoder: mock\n  path: out/b.mkv\n"
	watchBad  = "server:\n  log_level: bananas\n"
)

// watchedFile writes content to a temp file and pins its mtime to at.
type watchedFile struct {
	t    *testing.T
	path string
}

func newWatchedFile(t *testing.T, content string) *watchedFile {
	t.Helper()
	f := &watchedFile{t: t, path: filepath.Join(t.TempDir(), "camrec.yaml")}
	f.write(content, time.Now().Add(-time.Hour))
	return f
}

func (f *watchedFile) write(content string, at time.Time) {
	f.t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
	f.touch(at)
}

func (f *watchedFile) touch(at time.Time) {
	f.t.Helper()
	if err := os.Chtimes(f.path, at, at); err != nil {
		f.t.Fatal(err)
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	later := time.Now()
	tests := []struct {
		name        string
		edit        func(f *watchedFile)
		wantChanged bool
		wantLevel   config.LogLevel
		wantErr     bool
	}{
		{
			name:      "untouched",
			edit:      func(*watchedFile) {},
			wantLevel: config.LogInfo,
		},
		{
			name:      "touched without content change",
			edit:      func(f *watchedFile) { f.touch(later) },
			wantLevel: config.LogInfo,
		},
		{
			name:        "content changed",
			edit:        func(f *watchedFile) { f.write(watchEdit, later) },
			wantChanged: true,
			wantLevel:   config.LogDebug,
		},
		{
			name:      "invalid edit keeps previous",
			edit:      func(f *watchedFile) { f.write(watchBad, later) },
			wantLevel: config.LogInfo,
			wantErr:   true,
		},
		{
			name:      "file removed keeps previous",
			edit:      func(f *watchedFile) { _ = os.Remove(f.path) },
			wantLevel: config.LogInfo,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newWatchedFile(t, watchBase)

			var calls int
			var gotOld, gotNew *config.Config
			w, err := config.NewWatcher(f.path, config.WithOnChange(func(old, new *config.Config) {
				calls++
				gotOld, gotNew = old, new
			}))
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}

			tt.edit(f)
			if got := w.Check(); got != tt.wantChanged {
				t.Errorf("Check() = %v, want %v", got, tt.wantChanged)
			}
			if got := w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("Current log level = %q, want %q", got, tt.wantLevel)
			}
			if (w.Err() != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", w.Err(), tt.wantErr)
			}

			if !tt.wantChanged {
				if calls != 0 {
					t.Errorf("callback called %d times", calls)
				}
				return
			}
			if calls != 1 {
				t.Fatalf("callback called %d times, want 1", calls)
			}
			if d := config.Diff(gotOld, gotNew); !d.LogLevelChanged || !d.RecordingChanged {
				t.Errorf("diff = %+v, want log level and recording changes", d)
			}
		})
	}
}

func TestWatcher_RecoversAfterInvalidEdit(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, watchBase)
	w, err := config.NewWatcher(f.path)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	f.write(watchBad, now.Add(-time.Minute))
	if w.Check() || w.Err() == nil {
		t.Fatal("invalid edit should be rejected")
	}
	f.write(watchEdit, now)
	if !w.Check() {
		t.Fatal("valid edit after a rejected one not accepted")
	}
	if w.Err() != nil {
		t.Errorf("Err() after accepted edit = %v", w.Err())
	}
}

func TestWatcher_RunPollsUntilCancel(t *testing.T) {
	t.Parallel()
	f := newWatchedFile(t, watchBase)

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(f.path,
		config.WithInterval(10*time.Millisecond),
		config.WithOnChange(func(_, new *config.Config) { changed <- new }),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	f.write(watchEdit, time.Now())
	select {
	case cfg := <-changed:
		if cfg.Recording.Path != "out/b.mkv" {
			t.Errorf("reloaded path = %q", cfg.Recording.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change not reported")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	f := newWatchedFile(t, watchBad)
	if _, err := config.NewWatcher(f.path); err == nil {
		t.Fatal("expected error for invalid file")
	}
}
