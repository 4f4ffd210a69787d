package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

var stillExts = []string{".jpg", ".jpeg", ".png"}

// FolderCamera reads captures that a tethered camera drops into a hot
// folder, one <slot>.<ext> still per slot plus an optional <slot>.mp4 clip
type FolderCamera struct {
	Dir string
}

func (c *FolderCamera) Capture(ctx context.Context, slotID string) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}

	info, err := os.Stat(c.Dir)
	if err != nil || !info.IsDir() {
		return Capture{}, fmt.Errorf("%w: hot folder %s is not readable", schemas.ErrCameraUnavailable, c.Dir)
	}

	var capture Capture
	for _, ext := range stillExts {
		path := filepath.Join(c.Dir, slotID+ext)
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			capture.ImagePath = path
			capture.Timestamp = st.ModTime()
			break
		}
	}
	if capture.ImagePath == "" {
		return Capture{}, fmt.Errorf("%w: no still for slot %q in %s", schemas.ErrCameraUnavailable, slotID, c.Dir)
	}

	clip := filepath.Join(c.Dir, slotID+".mp4")
	if st, err := os.Stat(clip); err == nil && st.Size() > 0 {
		capture.VideoPath = clip
	}
	return capture, nil
}

// CommandPrinter submits files to the CUPS lp command
type CommandPrinter struct {
	// Command defaults to "lp"
	Command string
}

func (p *CommandPrinter) Print(ctx context.Context, path string, opts PrintOptions) error {
	name := p.Command
	if name == "" {
		name = "lp"
	}

	var args []string
	if opts.Printer != "" {
		args = append(args, "-d", opts.Printer)
	}
	if opts.Copies > 1 {
		args = append(args, "-n", strconv.Itoa(opts.Copies))
	}
	args = append(args, path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", schemas.ErrPrint, msg)
	}
	return nil
}
