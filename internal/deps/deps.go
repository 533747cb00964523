package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"transcoder/internal/config"
)

// Requirement defines an external dependency the transcoder relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured encoders invoke. Fluidsynth
// is only needed when MIDI sources are rendered.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.Encoder.FFmpegBinary, Description: "Encodes every derivative"},
		{Name: "FFprobe", Command: cfg.Encoder.FFprobeBinary, Description: "Reads source duration and dimensions"},
		{Name: "FluidSynth", Command: cfg.Encoder.FluidsynthBinary, Description: "Renders MIDI sources to audio", Optional: true},
	}
}

// CheckBinaries resolves each requirement on PATH (or as a literal path).
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		st := &results[i]
		*st = Status{
			Name:        req.Name,
			Command:     strings.TrimSpace(req.Command),
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch _, err := exec.LookPath(st.Command); {
		case st.Command == "":
			st.Detail = "command not configured"
		case err != nil:
			st.Detail = fmt.Sprintf("binary %q not found", st.Command)
		default:
			st.Available = true
		}
	}
	return results
}

// CheckSoundFont reports whether the MIDI soundfont is a readable file.
func CheckSoundFont(path string) Status {
	st := Status{Name: "SoundFont", Command: path, Description: "Instrument bank for MIDI rendering", Optional: true}
	if strings.TrimSpace(path) == "" {
		st.Detail = "soundfont not configured"
		return st
	}
	f, err := os.Open(path)
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	defer f.Close()
	if info, err := f.Stat(); err != nil || info.IsDir() {
		st.Detail = "soundfont path is a directory"
		return st
	}
	st.Available = true
	return st
}

// Check runs every dependency check for cfg, including the ffmpeg encoder
// inventory when ffmpeg itself resolves.
func Check(cfg *config.Config) []Status {
	results := CheckBinaries(Requirements(cfg))
	results = append(results, CheckSoundFont(cfg.Encoder.SoundFont))
	if results[0].Available {
		results = append(results, CheckFFmpegEncoders(cfg.Encoder.FFmpegBinary)...)
	}
	return results
}

// Missing filters results down to unavailable required dependencies.
func Missing(results []Status) (missing []Status) {
	for _, st := range results {
		if !st.Available && !st.Optional {
			missing = append(missing, st)
		}
	}
	return missing
}
