package problem

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter turns a foreign problem archive into a DOMjudge zip at dst.
type Converter interface {
	Convert(ctx context.Context, src, dst, shortName string) error
}

// CommandConverter runs an external converter binary (p2d by default):
//
//	<binary> --code <short-name> --output <dst> <src>
type CommandConverter struct {
	Binary string
}

// Convert runs the converter and returns its stderr on failure.
func (c CommandConverter) Convert(ctx context.Context, src, dst, shortName string) error {
	bin := c.Binary
	if bin == "" {
		bin = "p2d"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("polygon converter %q not found in PATH: %w", bin, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "--code", shortName, "--output", dst, src)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// polygonShortName derives the short name from a Polygon archive file name:
// "aplusb-7$linux.zip" and "aplusb-7.zip" both give "aplusb".
func polygonShortName(archive string) string {
	stem := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	parts := strings.Split(stem, "-")
	if len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "-")
}

// convertPolygon converts src into a temporary DOMjudge archive and reads it.
func convertPolygon(ctx context.Context, conv Converter, src string) (*Package, error) {
	tmp, err := os.MkdirTemp("", "domctl-polygon-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dst := filepath.Join(tmp, "package.zip")
	if err := conv.Convert(ctx, src, dst, polygonShortName(src)); err != nil {
		return nil, err
	}
	return readFile(dst)
}
