package filewatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		name string
		exts []string
		want bool
	}{
		{"stmt.csv", []string{".csv"}, true},
		{"STMT.CSV", []string{".csv"}, true},
		{"stmt.xls", []string{".xls", ".xlsx"}, true},
		{"stmt.xlsx", []string{".xls", ".xlsx"}, true},
		{"stmt.pdf", []string{".csv"}, false},
		{"stmt.csv.crdownload", []string{".csv"}, false},
		{"stmt.csv.part", nil, false},
		{"stmt.tmp", nil, false},
		{"anything.bin", nil, true},
	}
	for _, c := range cases {
		if got := matches(c.name, c.exts); got != c.want {
			t.Errorf("matches(%q, %v) = %v, want %v", c.name, c.exts, got, c.want)
		}
	}
}

func TestNewest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.csv")
	if err := os.WriteFile(old, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "new.csv")
	if err := os.WriteFile(want, []byte("c,d\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Newest(dir, []string{".csv"})
	if err != nil {
		t.Fatalf("Newest() error = %v", err)
	}
	if filepath.Base(got) != "new.csv" {
		t.Errorf("Newest() = %s, want new.csv", got)
	}
}

func TestNewestEmptyDir(t *testing.T) {
	_, err := Newest(t.TempDir(), []string{".csv"})
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("Newest() error = %v, want ErrNoFile", err)
	}
}

func TestWaitNewestPicksUpLateFile(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "statement.csv"), []byte("date,amount\n01/01/2026,10\n"), 0o644)
	}()

	got, err := WaitNewest(context.Background(), dir, since, Options{
		Extensions: []string{".csv"},
		Timeout:    5 * time.Second,
		StableFor:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitNewest() error = %v", err)
	}
	if !strings.HasSuffix(got, "statement.csv") {
		t.Errorf("WaitNewest() = %s, want statement.csv", got)
	}
}

func TestWaitNewestIgnoresInFlightDownloads(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)
	if err := os.WriteFile(filepath.Join(dir, "statement.csv.crdownload"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := WaitNewest(context.Background(), dir, since, Options{
		Extensions: []string{".csv"},
		Timeout:    400 * time.Millisecond,
		StableFor:  50 * time.Millisecond,
	})
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("WaitNewest() error = %v, want ErrNoFile", err)
	}
}

func TestWaitNewestTimesOut(t *testing.T) {
	_, err := WaitNewest(context.Background(), t.TempDir(), time.Now(), Options{
		Timeout:   300 * time.Millisecond,
		StableFor: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("WaitNewest() error = %v, want ErrNoFile", err)
	}
}

func TestWaitNewestRejectsHTML(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Second)
	page := []byte("<!DOCTYPE html><html><body>session expired</body></html>")
	if err := os.WriteFile(filepath.Join(dir, "statement.csv"), page, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := WaitNewest(context.Background(), dir, since, Options{
		Extensions: []string{".csv"},
		Timeout:    2 * time.Second,
		StableFor:  50 * time.Millisecond,
	})
	if err == nil || !strings.Contains(err.Error(), "html") {
		t.Errorf("WaitNewest() error = %v, want html rejection", err)
	}
}
