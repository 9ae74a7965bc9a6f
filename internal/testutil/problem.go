package testutil

import (
	"bytes"
	"testing"

	"domctl/internal/problem"

	"github.com/klauspost/compress/zip"
)

// ProblemZip builds a minimal valid package archive. extra maps archive
// paths (e.g. "submissions/accepted/a.py") to contents.
func ProblemZip(tb testing.TB, shortName string, extra map[string]string) []byte {
	tb.Helper()
	files := map[string]string{
		"domjudge-problem.ini": "short-name = " + shortName + "\ntimelimit = 1\n",
		"problem.yaml":         "name: Problem " + shortName + "\n",
		"data/sample/1.in":     "1\n",
		"data/sample/1.ans":    "1\n",
	}
	for name, content := range extra {
		files[name] = content
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			tb.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			tb.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatal(err)
	}
	return buf.Bytes()
}

// ProblemPackage returns the package of ProblemZip.
func ProblemPackage(tb testing.TB, shortName string, extra map[string]string) *problem.Package {
	tb.Helper()
	data := ProblemZip(tb, shortName, extra)
	pkg, err := problem.ReadZip(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("ReadZip(%s) error = %v", shortName, err)
	}
	return pkg
}
