package hls

import (
	"fmt"
	"slices"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// audioGroup is the EXT-X-MEDIA group shared by every audio-only track.
const audioGroup = "audio"

// Track is one published media playlist listed in a multivariant playlist.
type Track struct {
	Name       string
	URI        string
	Bandwidth  int
	Codecs     []string
	Resolution string
	AudioOnly  bool
}

// MarshalMultivariant renders the playlist that lets a player choose between
// tracks. Audio-only tracks become an audio rendition group referenced by
// every video track; with no video tracks they are listed as variants.
func MarshalMultivariant(tracks []Track) ([]byte, error) {
	var video, audio []Track
	for _, t := range tracks {
		if t.AudioOnly {
			audio = append(audio, t)
		} else {
			video = append(video, t)
		}
	}
	if len(video) == 0 && len(audio) == 0 {
		return nil, fmt.Errorf("multivariant playlist needs at least one track")
	}

	pl := &playlist.Multivariant{Version: 7, IndependentSegments: true}
	if len(video) == 0 {
		for _, t := range audio {
			pl.Variants = append(pl.Variants, &playlist.MultivariantVariant{
				Bandwidth: t.Bandwidth,
				Codecs:    t.Codecs,
				URI:       t.URI,
			})
		}
		return pl.Marshal()
	}

	var audioCodecs []string
	for i, t := range audio {
		uri := t.URI
		pl.Renditions = append(pl.Renditions, &playlist.MultivariantRendition{
			Type:       playlist.MultivariantRenditionTypeAudio,
			GroupID:    audioGroup,
			Name:       t.Name,
			Autoselect: true,
			Default:    i == 0,
			URI:        &uri,
		})
		audioCodecs = appendMissing(audioCodecs, t.Codecs...)
	}
	for _, t := range video {
		v := &playlist.MultivariantVariant{
			Bandwidth:  t.Bandwidth,
			Codecs:     t.Codecs,
			URI:        t.URI,
			Resolution: t.Resolution,
		}
		if len(audio) > 0 {
			v.Audio = audioGroup
			v.Codecs = appendMissing(append([]string(nil), t.Codecs...), audioCodecs...)
		}
		pl.Variants = append(pl.Variants, v)
	}
	return pl.Marshal()
}

func appendMissing(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
