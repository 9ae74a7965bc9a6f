package problem

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"domctl/internal/apperrors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-yaml/yaml"
	"github.com/klauspost/compress/zip"
)

// maxMemberSize bounds a single decompressed archive member.
const maxMemberSize = 512 << 20

// ReadZip loads a package from a DOMjudge zip archive and checks that
// writing it back reproduces the archive's file set.
func ReadZip(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	pkg := newPackage()
	extracted := mapset.NewThreadUnsafeSet[string]()
	var iniData, yamlData []byte

	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "./")
		if f.FileInfo().IsDir() || name == "" {
			continue
		}
		content, err := readMember(f)
		if err != nil {
			return nil, err
		}
		extracted.Add(name)

		switch name {
		case iniPath:
			iniData = content
		case yamlPath:
			yamlData = content
		default:
			pkg.classify(name, content)
		}
	}

	if iniData == nil {
		return nil, fmt.Errorf("missing %s", iniPath)
	}
	if yamlData == nil {
		return nil, fmt.Errorf("missing %s", yamlPath)
	}
	if pkg.INI, err = ParseINI(string(iniData)); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(yamlData, &pkg.Metadata); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", yamlPath, err)
	}

	var buf bytes.Buffer
	written, err := pkg.WriteZip(&buf)
	if err != nil {
		return nil, err
	}
	if err := ValidateRoundTrip(extracted, written); err != nil {
		return nil, err
	}
	return pkg, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxMemberSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	if len(data) > maxMemberSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxMemberSize)
	}
	return data, nil
}

// WriteZip writes the package as a zip archive and returns the written paths.
func (p *Package) WriteZip(w io.Writer) (mapset.Set[string], error) {
	zw := zip.NewWriter(w)
	written := mapset.NewThreadUnsafeSet[string]()

	meta, err := yaml.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", yamlPath, err)
	}

	members := map[string][]byte{
		iniPath:  []byte(p.INI.String()),
		yamlPath: meta,
	}
	put := func(prefix string, files map[string][]byte) {
		for name, content := range files {
			members[prefix+name] = content
		}
	}
	put(samplePrefix, p.Data.Sample)
	put(secretPrefix, p.Data.Secret)
	put(checkerPrefix, p.OutputValidators)
	for verdict, files := range p.Submissions {
		put(submitPrefix+string(verdict)+"/", files)
	}
	put("", p.ExtraFiles)

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := fw.Write(members[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written.Add(name)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return written, nil
}

// Bytes returns the package as zip archive bytes.
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteZip(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ValidateRoundTrip compares the paths read from an archive with the paths
// written back and reports any difference.
func ValidateRoundTrip(extracted, written mapset.Set[string]) error {
	missing := written.Difference(extracted).ToSlice()
	unexpected := extracted.Difference(written).ToSlice()
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing expected files: "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected files: "+strings.Join(unexpected, ", "))
	}
	return apperrors.Validation("package", "problem package round-trip mismatch: "+strings.Join(parts, "; "))
}
