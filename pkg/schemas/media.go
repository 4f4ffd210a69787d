package schemas

import "time"

// MediaInfo holds the probed properties of one source
type MediaInfo struct {
	Format       FormatInfo    `json:"format"`
	VideoStreams []VideoStream `json:"video_streams,omitempty"`
	HasAudio     bool          `json:"has_audio,omitempty"`
}

// FormatInfo contains container format information
type FormatInfo struct {
	Filename string        `json:"filename"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
}

// VideoStream represents a video (or still image) stream
type VideoStream struct {
	Index     int           `json:"index"`
	Codec     string        `json:"codec"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FrameRate float64       `json:"frame_rate"`
	Duration  time.Duration `json:"duration"`

	// Rotation is the display-matrix rotation in degrees, as phones record
	// portrait clips
	Rotation int `json:"rotation,omitempty"`
}

// DisplaySize returns the stream dimensions after the display rotation
func (v VideoStream) DisplaySize() (int, int) {
	r := ((v.Rotation % 360) + 360) % 360
	if r == 90 || r == 270 {
		return v.Height, v.Width
	}
	return v.Width, v.Height
}

// PrimaryVideo returns the first video stream, if any
func (m *MediaInfo) PrimaryVideo() (VideoStream, bool) {
	if m == nil || len(m.VideoStreams) == 0 {
		return VideoStream{}, false
	}
	return m.VideoStreams[0], true
}
