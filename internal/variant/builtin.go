package variant

import "fmt"

type rung struct {
	height      int
	maxSize     string
	bitrate     string
	minrate     string
	maxrate     string
	crf         int
	speed       int
	tileColumns int
	audio       string
}

var vp9Ladder = []rung{
	{120, "213x120", "80k", "40k", "116k", 35, 3, 0, "48k"},
	{180, "320x180", "130k", "65k", "188k", 35, 3, 0, "64k"},
	{240, "426x240", "160k", "80k", "232k", 35, 3, 0, "64k"},
	{360, "640x360", "300k", "150k", "435k", 35, 2, 1, "96k"},
	{480, "854x480", "600k", "300k", "870k", 34, 2, 1, "96k"},
	{720, "1280x720", "1200k", "600k", "1740k", 32, 2, 2, "128k"},
	{1080, "1920x1080", "2400k", "1200k", "3480k", 31, 2, 2, "128k"},
	{1440, "2560x1440", "5000k", "2500k", "7250k", 24, 2, 3, "128k"},
	{2160, "3840x2160", "9000k", "4500k", "13050k", 15, 2, 3, "128k"},
}

func intPtr(v int) *int { return &v }

// Builtin returns the default derivative catalog: a VP9/Opus WebM ladder, a
// VP8 WebM fallback, H.264 MP4, HLS video/audio tracks, and audio-only
// derivatives.
func Builtin() Catalog {
	specs := make([]Spec, 0, 3*len(vp9Ladder)+10)
	for _, r := range vp9Ladder {
		webm := fmt.Sprintf("%dp.vp9.webm", r.height)
		specs = append(specs, Spec{
			Key:          webm,
			Type:         `video/webm; codecs="vp9, opus"`,
			VideoCodec:   "vp9",
			AudioCodec:   "opus",
			MaxSize:      r.maxSize,
			VideoBitrate: r.bitrate,
			MinRate:      r.minrate,
			MaxRate:      r.maxrate,
			CRF:          intPtr(r.crf),
			Speed:        intPtr(r.speed),
			TileColumns:  intPtr(r.tileColumns),
			AudioBitrate: r.audio,
			SampleRate:   48000,
			Channels:     2,
			TwoPass:      true,
		})
		specs = append(specs, Spec{
			Key:          fmt.Sprintf("%dp.video.vp9.mp4", r.height),
			Type:         `video/mp4; codecs="vp09.00.51.08"`,
			VideoCodec:   "vp9",
			NoAudio:      true,
			MaxSize:      r.maxSize,
			VideoBitrate: r.bitrate,
			MinRate:      r.minrate,
			MaxRate:      r.maxrate,
			CRF:          intPtr(r.crf),
			Speed:        intPtr(r.speed),
			TileColumns:  intPtr(r.tileColumns),
			TwoPass:      true,
			Streaming:    StreamingHLS,
			RemuxFrom:    []string{webm},
		})
	}
	for _, r := range []rung{vp9Ladder[3], vp9Ladder[5]} {
		specs = append(specs, Spec{
			Key:          fmt.Sprintf("%dp.mp4", r.height),
			Type:         `video/mp4; codecs="avc1.42E01E, mp4a.40.2"`,
			VideoCodec:   "h264",
			AudioCodec:   "aac",
			MaxSize:      r.maxSize,
			VideoBitrate: r.bitrate,
			MinRate:      r.minrate,
			MaxRate:      r.maxrate,
			AudioBitrate: r.audio,
			SampleRate:   44100,
			Channels:     2,
			TwoPass:      true,
		})
	}
	specs = append(specs,
		Spec{
			Key:          "360p.webm",
			Type:         `video/webm; codecs="vp8, vorbis"`,
			VideoCodec:   "vp8",
			AudioCodec:   "vorbis",
			MaxSize:      "640x360",
			VideoBitrate: "512k",
			CRF:          intPtr(10),
			Slices:       intPtr(2),
			AudioQuality: intPtr(1),
			SampleRate:   44100,
			Channels:     2,
			TwoPass:      true,
		},
		Spec{
			Key:        "144p.video.mjpeg.mov",
			Type:       `video/quicktime; codecs="jpeg"`,
			VideoCodec: "mjpeg",
			NoAudio:    true,
			MaxSize:    "256x144",
			FrameRate:  "15",
			Intraframe: true,
			Streaming:  StreamingHLS,
		},
		Spec{
			Key:          "stereo.audio.opus.mp4",
			Type:         `audio/mp4; codecs="opus"`,
			AudioCodec:   "opus",
			NoVideo:      true,
			AudioBitrate: "96k",
			SampleRate:   48000,
			Channels:     2,
			Streaming:    StreamingHLS,
		},
		Spec{
			Key:          "stereo.audio.mp3",
			Type:         "audio/mpeg",
			AudioCodec:   "mp3",
			NoVideo:      true,
			AudioBitrate: "128k",
			SampleRate:   48000,
			Channels:     2,
			Streaming:    StreamingHLS,
		},
		Spec{
			Key:          "ogg",
			Type:         `audio/ogg; codecs="vorbis"`,
			AudioCodec:   "vorbis",
			NoVideo:      true,
			AudioQuality: intPtr(3),
			SampleRate:   44100,
			Channels:     2,
		},
		Spec{
			Key:          "opus",
			Type:         `audio/ogg; codecs="opus"`,
			AudioCodec:   "opus",
			NoVideo:      true,
			AudioBitrate: "96k",
			SampleRate:   48000,
			Channels:     2,
		},
		Spec{
			Key:          "mp3",
			Type:         "audio/mpeg",
			AudioCodec:   "mp3",
			NoVideo:      true,
			AudioBitrate: "128k",
			SampleRate:   44100,
			Channels:     2,
		},
		Spec{
			Key:          "m4a",
			Type:         `audio/mp4; codecs="mp4a.40.5"`,
			AudioCodec:   "aac",
			NoVideo:      true,
			AudioBitrate: "128k",
			SampleRate:   44100,
			Channels:     2,
		},
	)
	cat, err := New(specs...)
	if err != nil {
		panic(fmt.Sprintf("builtin variant catalog: %v", err))
	}
	return cat
}
