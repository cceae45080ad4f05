package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func settingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings", settingsKey)
}

func TestLoadSelfHeals(t *testing.T) {
	t.Run("missing document yields persisted defaults", func(t *testing.T) {
		dir := t.TempDir()
		s := NewStore(dir, "", "ZIGGY_TEST", nil)

		got := s.Load()
		if got != Defaults() {
			t.Errorf("Load = %+v; want defaults", got)
		}
		if _, err := os.Stat(settingsPath(dir)); err != nil {
			t.Errorf("defaults were not persisted: %v", err)
		}
	})

	t.Run("corrupt document yields persisted defaults", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, "settings"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(settingsPath(dir), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}

		s := NewStore(dir, "", "ZIGGY_TEST", nil)
		if got := s.Load(); got != Defaults() {
			t.Errorf("Load = %+v; want defaults", got)
		}
	})

	t.Run("partial document keeps defaults for missing keys", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, "settings"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(settingsPath(dir), []byte(`{"UPLOAD_INTERVAL_S": 120}`), 0o644); err != nil {
			t.Fatal(err)
		}

		s := NewStore(dir, "", "ZIGGY_TEST", nil)
		got := s.Load()
		if got.UploadIntervalS != 120 {
			t.Errorf("UploadIntervalS = %d; want 120", got.UploadIntervalS)
		}
		if got.MaxBatchFiles != Defaults().MaxBatchFiles {
			t.Errorf("MaxBatchFiles = %d; want default", got.MaxBatchFiles)
		}
	})
}

func TestRefreshFromRemote(t *testing.T) {
	newServer := func(t *testing.T, body string, status int) *httptest.Server {
		t.Helper()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/ZIGGY_TEST" {
				t.Errorf("path = %q; want /ZIGGY_TEST", r.URL.Path)
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("override is applied and persisted", func(t *testing.T) {
		dir := t.TempDir()
		srv := newServer(t, `{"UPLOAD_INTERVAL_S": 60, "NOT_A_KEY": 999}`, http.StatusOK)

		s := NewStore(dir, srv.URL, "ZIGGY_TEST", srv.Client())
		s.Load()

		if changed := s.RefreshFromRemote(context.Background()); !changed {
			t.Fatal("RefreshFromRemote = false; want true")
		}
		if got := s.Current().UploadIntervalS; got != 60 {
			t.Errorf("UploadIntervalS = %d; want 60", got)
		}

		// A fresh store must see the merged document on disk.
		reloaded := NewStore(dir, "", "ZIGGY_TEST", nil).Load()
		if reloaded.UploadIntervalS != 60 {
			t.Errorf("persisted UploadIntervalS = %d; want 60", reloaded.UploadIntervalS)
		}
		if reloaded.MaxBatchFiles != Defaults().MaxBatchFiles {
			t.Errorf("unknown key leaked into settings: %+v", reloaded)
		}
	})

	t.Run("identical refetch causes no rewrite", func(t *testing.T) {
		dir := t.TempDir()
		srv := newServer(t, `{"UPLOAD_INTERVAL_S": 60}`, http.StatusOK)

		s := NewStore(dir, srv.URL, "ZIGGY_TEST", srv.Client())
		s.Load()
		if !s.RefreshFromRemote(context.Background()) {
			t.Fatal("first refresh should report a change")
		}

		// Remove the on-disk document; an unchanged refetch must not
		// recreate it.
		if err := os.Remove(settingsPath(dir)); err != nil {
			t.Fatal(err)
		}
		if s.RefreshFromRemote(context.Background()) {
			t.Error("second refresh reported a change for identical values")
		}
		if _, err := os.Stat(settingsPath(dir)); !os.IsNotExist(err) {
			t.Error("identical refetch rewrote the settings document")
		}
	})

	t.Run("non-200 keeps prior values", func(t *testing.T) {
		dir := t.TempDir()
		srv := newServer(t, `ignored`, http.StatusServiceUnavailable)

		s := NewStore(dir, srv.URL, "ZIGGY_TEST", srv.Client())
		s.Load()
		if s.RefreshFromRemote(context.Background()) {
			t.Error("refresh reported a change on non-200")
		}
		if got := s.Current(); got != Defaults() {
			t.Errorf("settings changed on non-200: %+v", got)
		}
	})

	t.Run("transport failure keeps prior values", func(t *testing.T) {
		dir := t.TempDir()
		s := NewStore(dir, "http://127.0.0.1:1", "ZIGGY_TEST", nil)
		s.Load()
		if s.RefreshFromRemote(context.Background()) {
			t.Error("refresh reported a change on transport failure")
		}
	})

	t.Run("disabled without an api base", func(t *testing.T) {
		s := NewStore(t.TempDir(), "", "ZIGGY_TEST", nil)
		if s.RefreshFromRemote(context.Background()) {
			t.Error("refresh ran without an api base")
		}
	})
}
