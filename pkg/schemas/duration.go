package schemas

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	timecodePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?$`)
	isoPartPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)([HMS])`)
)

// Duration wraps time.Duration with text marshaling for JSON and YAML
type Duration struct {
	time.Duration
}

// MarshalJSON converts Duration to JSON string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses Duration from multiple formats
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses Duration from a config file scalar
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

// Seconds formats the duration as the decimal seconds ffmpeg's -t expects
func (d Duration) Seconds() string {
	return strconv.FormatFloat(d.Duration.Seconds(), 'f', -1, 64)
}

// ParseDuration parses duration from multiple formats:
// - Go duration: "1h30m", "90s"
// - Timecode: "01:30:00", "00:05:30.500"
// - ISO 8601: "PT1H30M", "PT2.5S"
// - Plain seconds: "12.5"
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if d, ok := parseTimecode(s); ok {
		return d, nil
	}

	if strings.HasPrefix(s, "PT") {
		return parseISO8601(s)
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// parseTimecode parses "HH:MM:SS" or "HH:MM:SS.mmm" format
func parseTimecode(s string) (time.Duration, bool) {
	matches := timecodePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, false
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second

	if ms := matches[4]; ms != "" {
		ms += strings.Repeat("0", 3-len(ms))
		millis, _ := strconv.Atoi(ms)
		d += time.Duration(millis) * time.Millisecond
	}

	return d, true
}

// parseISO8601 parses the time part of an ISO 8601 duration
func parseISO8601(s string) (time.Duration, error) {
	rest := strings.TrimPrefix(s, "PT")
	matches := isoPartPattern.FindAllStringSubmatch(rest, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %s", s)
	}

	var d time.Duration
	for _, match := range matches {
		value, _ := strconv.ParseFloat(match[1], 64)
		switch match[2] {
		case "H":
			d += time.Duration(value * float64(time.Hour))
		case "M":
			d += time.Duration(value * float64(time.Minute))
		case "S":
			d += time.Duration(value * float64(time.Second))
		}
	}

	return d, nil
}
