package hls

import (
	"bytes"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg1audio"

	"transcoder/internal/services"
)

const (
	id3v2HeaderLen = 10
	id3v1TagLen    = 128
)

// segmentMP3 walks MPEG audio frames and cuts a new segment whenever the next
// frame would push the current one past target. A leading ID3v2 tag stays in
// the first segment.
func segmentMP3(path string, target time.Duration) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrPublication, "hls", "read mp3", path, err)
	}

	pos := skipID3v2(data)
	end := len(data)
	if end-pos >= id3v1TagLen && bytes.HasPrefix(data[end-id3v1TagLen:], []byte("TAG")) {
		end -= id3v1TagLen
	}

	var (
		segments []Segment
		current  = Segment{Keyframe: true}
	)
	for pos+4 <= end {
		var h mpeg1audio.FrameHeader
		if err := h.Unmarshal(data[pos:end]); err != nil {
			return nil, malformed(path, "invalid mpeg audio frame at byte %d: %v", pos, err)
		}
		frameLen := h.FrameLen()
		if frameLen <= 0 || h.SampleRate <= 0 {
			return nil, malformed(path, "invalid mpeg audio frame at byte %d", pos)
		}
		if pos+frameLen > end {
			frameLen = end - pos
		}
		frameDur := time.Duration(h.SampleCount()) * time.Second / time.Duration(h.SampleRate)

		if current.Length > 0 && current.Duration+frameDur > target {
			segments = append(segments, current)
			current = Segment{ByteRange: ByteRange{Offset: uint64(pos)}, Keyframe: true}
		}
		current.Length = uint64(pos+frameLen) - current.Offset
		current.Duration += frameDur
		pos += frameLen
	}
	if current.Length > 0 {
		segments = append(segments, current)
	}
	return segments, nil
}

func skipID3v2(data []byte) int {
	if len(data) < id3v2HeaderLen || !bytes.HasPrefix(data, []byte("ID3")) {
		return 0
	}
	// Tag size is a 28-bit syncsafe integer excluding the header.
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	total := id3v2HeaderLen + size
	if data[5]&0x10 != 0 {
		total += id3v2HeaderLen
	}
	if total > len(data) {
		return len(data)
	}
	return total
}
