package pack

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

// Reader extracts a .poepack into a lifetime-tied temp directory (spec
// §4.9: "Lifetime-tied temp dir is deleted when the reader is dropped").
type Reader struct {
	dir         string
	SummaryJSON []byte
	StorePath   string
	StdoutPath  string // "" if the pack carried no stdout artifact
	StderrPath  string
	EnvPath     string
}

// Open extracts path (a .poepack archive) into a fresh temp directory.
// summary.json and trace.sqlite are mandatory; artifacts and meta are
// extracted only if present (spec §4.9).
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, trace.Wrap(err, "open pack %s", path)
	}
	defer zr.Close()

	dir, err := os.MkdirTemp("", "poepack-")
	if err != nil {
		return nil, trace.Wrap(err, "create temp dir for pack %s", path)
	}

	r := &Reader{dir: dir}
	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	summaryFile, ok := members[memberSummary]
	if !ok {
		os.RemoveAll(dir)
		return nil, trace.BadParameter("pack %s missing mandatory member %s", path, memberSummary)
	}
	summaryBytes, err := readZipMember(summaryFile)
	if err != nil {
		os.RemoveAll(dir)
		return nil, trace.Wrap(err, "read %s", memberSummary)
	}
	r.SummaryJSON = summaryBytes

	storeFile, ok := members[memberStore]
	if !ok {
		os.RemoveAll(dir)
		return nil, trace.BadParameter("pack %s missing mandatory member %s", path, memberStore)
	}
	storePath := filepath.Join(dir, "trace.sqlite")
	if err := extractZipMember(storeFile, storePath); err != nil {
		os.RemoveAll(dir)
		return nil, trace.Wrap(err, "extract %s", memberStore)
	}
	r.StorePath = storePath

	if f, ok := members[memberStdout]; ok {
		out := filepath.Join(dir, "stdout.log")
		if err := extractZipMember(f, out); err == nil {
			r.StdoutPath = out
		}
	}
	if f, ok := members[memberStderr]; ok {
		out := filepath.Join(dir, "stderr.log")
		if err := extractZipMember(f, out); err == nil {
			r.StderrPath = out
		}
	}
	if f, ok := members[memberEnvironment]; ok {
		out := filepath.Join(dir, "environment.json")
		if err := extractZipMember(f, out); err == nil {
			r.EnvPath = out
		}
	}

	return r, nil
}

// Close removes the reader's temp directory.
func (r *Reader) Close() error {
	return trace.Wrap(os.RemoveAll(r.dir))
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractZipMember(f *zip.File, dstPath string) error {
	rc, err := f.Open()
	if err != nil {
		return trace.Wrap(err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return trace.Wrap(err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return trace.Wrap(err, "copy %s", dstPath)
	}
	return nil
}
