package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"

	"github.com/roach88/pipewright/internal/ir"
	"github.com/roach88/pipewright/internal/module"
)

// Workspace folders.
const (
	InputDir  = "inputs"
	OutputDir = "outputs"
)

// stageInputs links every given value that names an existing file into
// <workspace>/inputs and returns the given values as the store sees them:
// workspace-relative paths for files, unchanged strings for raw values.
func stageInputs(ctx context.Context, fsvc afs.Service, workspace string, given map[string][]string) (map[string][]string, error) {
	dir := filepath.Join(workspace, InputDir)
	if err := fsvc.Create(ctx, dir, os.ModeDir|0o755, true); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", InputDir, err)
	}

	staged := make(map[string][]string, len(given))
	for _, item := range ir.SortedKeys(given) {
		for _, v := range given[item] {
			if !filepath.IsAbs(v) {
				staged[item] = append(staged[item], v)
				continue
			}
			exists, err := fsvc.Exists(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("failed to check given %s: %w", v, err)
			}
			if !exists {
				return nil, fmt.Errorf("given %s [%s] does not exist", item, v)
			}
			rel := filepath.Join(InputDir, filepath.Base(v))
			if err := relink(v, filepath.Join(workspace, rel)); err != nil {
				return nil, err
			}
			staged[item] = append(staged[item], rel)
		}
	}
	slog.Debug("staged inputs", "workspace", workspace, "items", len(staged))
	return staged, nil
}

// linkOutputs links each file value into <workspace>/outputs as
// <jobfolder>--<file>. Raw values are skipped.
func linkOutputs(workspace string, values []string) error {
	for _, v := range values {
		if filepath.IsAbs(v) {
			continue
		}
		clean := filepath.Clean(v)
		folder, _, ok := strings.Cut(clean, string(filepath.Separator))
		if !ok || !strings.Contains(folder, module.FolderSeparator) {
			continue
		}
		name := folder + module.FolderSeparator + filepath.Base(clean)
		link := filepath.Join(workspace, OutputDir, name)
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", OutputDir, err)
		}
		if err := relink(filepath.Join("..", clean), link); err != nil {
			return err
		}
	}
	return nil
}

// relink points link at target, replacing whatever was there.
func relink(target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to replace %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to link %s: %w", link, err)
	}
	return nil
}
