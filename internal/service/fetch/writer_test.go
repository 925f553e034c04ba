package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quaffio/quaff/internal/adapter/filesystem"
	"github.com/quaffio/quaff/internal/domain"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestWriter_CleanSession(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")
	content := []byte("hello, staging world")

	session, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if _, err := session.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := session.Written(); got != int64(len(content)) {
		t.Errorf("Written() = %d, want %d", got, len(content))
	}

	// Destination must not exist before the promote
	if _, err := os.Stat(finalPath); !os.IsNotExist(err) {
		t.Fatal("destination exists before Finalize")
	}

	checksum, err := session.Finalize(int64(len(content)))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if want := sha256Hex(content); checksum != want {
		t.Errorf("Finalize() checksum = %s, want %s", checksum, want)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("destination content = %q, want %q", got, content)
	}

	if _, err := os.Stat(fs.StagingPath(finalPath)); !os.IsNotExist(err) {
		t.Error("staging file still present after Finalize")
	}
}

func TestWriter_FinalizeSizeMismatch(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	session, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := session.Write([]byte("short")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_, err = session.Finalize(100)
	if err == nil {
		t.Fatal("Finalize() with short staging succeeded, want error")
	}

	var incomplete *domain.IncompleteTransferError
	if !errors.As(err, &incomplete) {
		t.Fatalf("Finalize() error = %T, want *domain.IncompleteTransferError", err)
	}
	if incomplete.Expected != 100 || incomplete.Actual != 5 {
		t.Errorf("IncompleteTransferError = {Expected: %d, Actual: %d}, want {100, 5}",
			incomplete.Expected, incomplete.Actual)
	}

	if _, err := os.Stat(finalPath); !os.IsNotExist(err) {
		t.Error("destination exists after failed Finalize")
	}
	if _, err := os.Stat(fs.StagingPath(finalPath)); err != nil {
		t.Error("staging file gone after failed Finalize, want kept for resume")
	}
}

func TestWriter_FinalizeUnknownTotal(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")
	content := []byte("length was never announced")

	session, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	session.Write(content)

	checksum, err := session.Finalize(domain.SizeUnknown)
	if err != nil {
		t.Fatalf("Finalize(SizeUnknown) error = %v", err)
	}
	if want := sha256Hex(content); checksum != want {
		t.Errorf("checksum = %s, want %s", checksum, want)
	}
	if _, err := os.Stat(finalPath); err != nil {
		t.Error("destination missing after Finalize with unknown total")
	}
}

func TestWriter_Resume(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	prefix := []byte("the first half / ")
	rest := []byte("the second half")

	first, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	first.Write(prefix)
	if err := first.Abandon(); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}

	second, err := w.Begin(finalPath, int64(len(prefix)))
	if err != nil {
		t.Fatalf("Begin(resume) error = %v", err)
	}
	if got := second.Written(); got != int64(len(prefix)) {
		t.Fatalf("resumed Written() = %d, want %d", got, len(prefix))
	}
	second.Write(rest)

	total := int64(len(prefix) + len(rest))
	checksum, err := second.Finalize(total)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	// Checksum must cover the resumed prefix too
	whole := append(append([]byte{}, prefix...), rest...)
	if want := sha256Hex(whole); checksum != want {
		t.Errorf("checksum = %s, want %s", checksum, want)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(got) != string(whole) {
		t.Errorf("destination content = %q, want %q", got, whole)
	}
}

func TestWriter_ResumeOffsetMismatch(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	first, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	first.Write([]byte("1234"))
	first.Abandon()

	if _, err := w.Begin(finalPath, 9); err == nil {
		t.Fatal("Begin() with wrong resume offset succeeded, want error")
	}
}

func TestWriter_ResumeWithoutStaging(t *testing.T) {
	w := NewWriter(filesystem.NewManager(), nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	if _, err := w.Begin(finalPath, 42); err == nil {
		t.Fatal("Begin() with missing staging file succeeded, want error")
	}
}

func TestWriteSession_Restart(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	session, err := w.Begin(finalPath, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	session.Write([]byte("stale bytes from the first try"))

	if err := session.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if got := session.Written(); got != 0 {
		t.Fatalf("Written() after Restart = %d, want 0", got)
	}

	fresh := []byte("fresh body")
	session.Write(fresh)

	checksum, err := session.Finalize(int64(len(fresh)))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if want := sha256Hex(fresh); checksum != want {
		t.Errorf("checksum = %s, want %s (digest must reset on Restart)", checksum, want)
	}

	got, _ := os.ReadFile(finalPath)
	if string(got) != string(fresh) {
		t.Errorf("destination content = %q, want %q", got, fresh)
	}
}

func TestWriteSession_AbandonKeepsStaging(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	session, _ := w.Begin(finalPath, 0)
	session.Write([]byte("partial"))
	session.Abandon()

	info, err := os.Stat(fs.StagingPath(finalPath))
	if err != nil {
		t.Fatalf("staging file gone after Abandon: %v", err)
	}
	if info.Size() != 7 {
		t.Errorf("staging size = %d, want 7", info.Size())
	}
}

func TestWriteSession_DiscardRemovesStaging(t *testing.T) {
	fs := filesystem.NewManager()
	w := NewWriter(fs, nil)
	finalPath := filepath.Join(t.TempDir(), "out.bin")

	session, _ := w.Begin(finalPath, 0)
	session.Write([]byte("partial"))
	session.Discard()

	if _, err := os.Stat(fs.StagingPath(finalPath)); !os.IsNotExist(err) {
		t.Error("staging file still present after Discard")
	}
}
