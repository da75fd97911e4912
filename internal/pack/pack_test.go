package pack

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaso1024/poe/internal/distributed"
)

func TestWriteThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")
	if err := os.WriteFile(storePath, []byte("fake sqlite bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "run.poepack")
	env := BuildEnvironment("run-1", "deadbeef", "host1", "0.1.0", "6.8.0", "amd64",
		[]string{"HOME=/root", "API_KEY=shouldberedacted"}, nil,
		distributed.Context{TraceID: "t1", ParentSpanID: "s1"})

	err := Write(WriteOptions{
		OutPath:     out,
		SummaryJSON: []byte(`{"run_id":"run-1"}`),
		StorePath:   storePath,
		Stdout:      []byte("hello stdout\n"),
		Environment: env,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	r, err := Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if string(r.SummaryJSON) != `{"run_id":"run-1"}` {
		t.Fatalf("unexpected summary: %s", r.SummaryJSON)
	}
	storeOut, err := os.ReadFile(r.StorePath)
	if err != nil || string(storeOut) != "fake sqlite bytes" {
		t.Fatalf("store roundtrip mismatch: %v %s", err, storeOut)
	}
	if r.StdoutPath == "" {
		t.Fatal("expected stdout artifact to be extracted")
	}
	if r.StderrPath != "" {
		t.Fatal("did not expect stderr artifact, none was written")
	}
	if r.EnvPath == "" {
		t.Fatal("expected environment.json to be extracted")
	}
}

func TestWriteDeterministic(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")
	os.WriteFile(storePath, []byte("x"), 0o644)

	opts := WriteOptions{
		SummaryJSON: []byte(`{}`),
		StorePath:   storePath,
	}

	out1 := filepath.Join(dir, "a.poepack")
	opts.OutPath = out1
	if err := Write(opts); err != nil {
		t.Fatal(err)
	}
	out2 := filepath.Join(dir, "b.poepack")
	opts.OutPath = out2
	if err := Write(opts); err != nil {
		t.Fatal(err)
	}

	b1, _ := os.ReadFile(out1)
	b2, _ := os.ReadFile(out2)
	if string(b1) != string(b2) {
		t.Fatal("expected byte-identical archives for identical inputs")
	}
}

func TestOpenMissingSummaryFails(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")
	os.WriteFile(storePath, []byte("x"), 0o644)

	// Hand-construct an archive missing summary.json by writing the store
	// member only, bypassing Write.
	out := filepath.Join(dir, "broken.poepack")
	f, _ := os.Create(out)
	zw := zip.NewWriter(f)
	data, _ := os.ReadFile(storePath)
	writeMember(zw, memberStore, data)
	zw.Close()
	f.Close()

	if _, err := Open(out); err == nil {
		t.Fatal("expected error for pack missing summary.json")
	}
}
