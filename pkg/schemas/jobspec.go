package schemas

import "time"

// JobSpec is a submitted composite job: a layout, the captured media and
// where the result goes
type JobSpec struct {
	// Metadata
	JobID     string            `json:"job_id,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`

	// What to composite
	Layout Layout       `json:"layout"`
	Assets []MediaAsset `json:"assets"`
	Filter ColorFilter  `json:"filter,omitempty"`
	Output Output       `json:"output"`

	// MaxDuration caps the length of a video composite
	MaxDuration *Duration `json:"max_duration,omitempty"`
}

// Output represents an output destination
type Output struct {
	Destination string      `json:"destination"`
	Format      string      `json:"format,omitempty"` // "mp4", "png", "jpeg"
	Codec       *VideoCodec `json:"codec,omitempty"`
}

// VideoCodec specifies video codec parameters
type VideoCodec struct {
	Codec       string `json:"codec,omitempty"`
	CRF         *int   `json:"crf,omitempty"`
	Preset      string `json:"preset,omitempty"`
	PixelFormat string `json:"pixel_format,omitempty"`
}

// HasVideo reports whether any asset carries a live clip
func (s *JobSpec) HasVideo() bool {
	for _, a := range s.Assets {
		if a.HasVideo() {
			return true
		}
	}
	return false
}
