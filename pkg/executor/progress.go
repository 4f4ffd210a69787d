package executor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress represents FFmpeg encoding progress
type Progress struct {
	Frame   int           // Current frame number
	FPS     float64       // Frames per second
	Time    time.Duration // Current position in the composite
	Size    int64         // Output size in bytes
	Bitrate float64       // Bitrate in kbits/s
	Speed   float64       // Encoding speed multiplier (1.0 = realtime)
	Percent float64       // Share of the duration ceiling reached
}

var (
	frameRegex   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRegex    = regexp.MustCompile(`time=\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
	sizeRegex    = regexp.MustCompile(`size=\s*(\d+)(?:kB|KiB)`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
	speedRegex   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ProgressParser parses FFmpeg stats lines
type ProgressParser struct {
	totalDuration time.Duration
}

// NewProgressParser creates a parser that reports percentages against total
func NewProgressParser(total time.Duration) *ProgressParser {
	return &ProgressParser{totalDuration: total}
}

// SetTotalDuration sets the total duration for percentage calculation
func (pp *ProgressParser) SetTotalDuration(duration time.Duration) {
	pp.totalDuration = duration
}

// ParseLine parses a single line of FFmpeg output.
// Returns nil if the line doesn't contain progress information.
func (pp *ProgressParser) ParseLine(line string) *Progress {
	if !strings.Contains(line, "frame=") {
		return nil
	}

	progress := &Progress{}

	if m := frameRegex.FindStringSubmatch(line); len(m) > 1 {
		progress.Frame, _ = strconv.Atoi(m[1])
	}
	if m := fpsRegex.FindStringSubmatch(line); len(m) > 1 {
		progress.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := timeRegex.FindStringSubmatch(line); len(m) > 1 {
		progress.Time = parseFFmpegTime(m[1])
	}
	if m := sizeRegex.FindStringSubmatch(line); len(m) > 1 {
		sizeKB, _ := strconv.ParseInt(m[1], 10, 64)
		progress.Size = sizeKB * 1024
	}
	if m := bitrateRegex.FindStringSubmatch(line); len(m) > 1 {
		progress.Bitrate, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := speedRegex.FindStringSubmatch(line); len(m) > 1 {
		progress.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	progress.Percent = pp.ComputePercentage(progress)
	return progress
}

// ComputePercentage computes completion percentage based on time
func (pp *ProgressParser) ComputePercentage(progress *Progress) float64 {
	if pp.totalDuration <= 0 {
		return 0.0
	}

	percentage := float64(progress.Time) / float64(pp.totalDuration) * 100.0
	if percentage > 100.0 {
		percentage = 100.0
	}
	return percentage
}

// parseFFmpegTime parses HH:MM:SS with an optional fraction of any precision
func parseFFmpegTime(timeStr string) time.Duration {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 3 {
		return 0
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(secs*float64(time.Second)).Round(time.Millisecond)
}
