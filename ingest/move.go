package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const ArchiveSuffix = ".backup"

// Archive moves srcPath into dstDir as <base>.backup. An existing archive with
// the same name is overwritten.
//
// TODO: number colliding archive names instead of overwriting them.
func Archive(srcPath string, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("dstDir is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	dstPath := filepath.Join(dstDir, filepath.Base(srcPath)+ArchiveSuffix)

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Fallback: copy + remove (cross-device moves, or a destination that
	// rename refuses to replace).
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	_ = in.Close()
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}
