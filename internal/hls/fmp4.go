package hls

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/abema/go-mp4"

	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// Sample flags bit 16 is sample_is_non_sync_sample.
const nonSyncSample = 0x00010000

type trackInfo struct {
	id              uint32
	timescale       uint32
	handler         string
	defaultDuration uint32
	defaultFlags    uint32
}

type fragment struct {
	offset    uint64
	end       uint64
	seqOffset uint64
	start     uint64
	duration  uint64
	keyframe  bool
	sawTrack  bool
}

type trafState struct {
	track       *trackInfo
	hasDuration bool
	duration    uint32
	hasFlags    bool
	flags       uint32
}

type fmp4Scan struct {
	tracks    []*trackInfo
	primary   *trackInfo
	fragments []*fragment
	topTypes  []mp4.BoxType
	topInfo   []mp4.BoxInfo
	cur       *fragment
	traf      trafState
}

func (s *Segmenter) segmentFMP4(ctx context.Context, req Request) (*ByteRange, []Segment, error) {
	f, err := os.OpenFile(req.MediaPath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrPublication, "hls", "open media", req.MediaPath, err)
	}
	defer f.Close()

	scan := &fmp4Scan{}
	if _, err := mp4.ReadBoxStructure(f, scan.handle); err != nil {
		return nil, nil, services.Wrap(services.ErrPublication, "hls", "scan fragments", req.MediaPath, err)
	}
	if len(scan.fragments) == 0 {
		return nil, nil, malformed(req.MediaPath, "no movie fragments; encode was not fragmented")
	}
	if scan.primary == nil || scan.primary.timescale == 0 {
		return nil, nil, malformed(req.MediaPath, "no track with a media timescale")
	}
	scan.attachMdat()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	init := &ByteRange{Offset: 0, Length: scan.fragments[0].offset}
	fragments := make([]Segment, 0, len(scan.fragments))
	for i, frag := range scan.fragments {
		ticks := frag.duration
		if ticks == 0 && i+1 < len(scan.fragments) && scan.fragments[i+1].start > frag.start {
			ticks = scan.fragments[i+1].start - frag.start
		}
		fragments = append(fragments, Segment{
			ByteRange: ByteRange{Offset: frag.offset, Length: frag.end - frag.offset},
			Duration:  ticksToDuration(ticks, scan.primary.timescale),
			Keyframe:  frag.keyframe || (req.FixedInterval && frag.sawTrack),
		})
	}

	var seq [4]byte
	for i, frag := range scan.fragments {
		binary.BigEndian.PutUint32(seq[:], uint32(i+1))
		if _, err := f.WriteAt(seq[:], int64(frag.seqOffset)); err != nil {
			return nil, nil, services.Wrap(services.ErrPublication, "hls", "rewrite mfhd", req.MediaPath, err)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, nil, services.Wrap(services.ErrPublication, "hls", "sync media", req.MediaPath, err)
	}

	segments := consolidate(fragments, s.target)
	s.logger.Debug("fragments consolidated",
		logging.Int("fragments", len(fragments)),
		logging.Int("segments", len(segments)),
		logging.String("handler", scan.primary.handler),
	)
	return init, segments, nil
}

func (s *fmp4Scan) handle(h *mp4.ReadHandle) (interface{}, error) {
	if len(h.Path) == 1 {
		s.topTypes = append(s.topTypes, h.BoxInfo.Type)
		s.topInfo = append(s.topInfo, h.BoxInfo)
	}

	switch h.BoxInfo.Type {
	case mp4.BoxTypeMoov(), mp4.BoxTypeMdia(), mp4.BoxTypeMvex():
		return h.Expand()
	case mp4.BoxTypeTrak():
		s.tracks = append(s.tracks, &trackInfo{})
		return h.Expand()
	case mp4.BoxTypeMoof():
		s.cur = &fragment{offset: h.BoxInfo.Offset, end: h.BoxInfo.Offset + h.BoxInfo.Size}
		s.fragments = append(s.fragments, s.cur)
		if s.primary == nil {
			s.primary = s.pickPrimary()
		}
		return h.Expand()
	case mp4.BoxTypeTraf():
		s.traf = trafState{}
		return h.Expand()
	case mp4.BoxTypeMfhd():
		if s.cur != nil {
			// version/flags precede sequence_number.
			s.cur.seqOffset = h.BoxInfo.Offset + h.BoxInfo.HeaderSize + 4
		}
		return nil, nil
	case mp4.BoxTypeTkhd(), mp4.BoxTypeMdhd(), mp4.BoxTypeHdlr(), mp4.BoxTypeTrex(),
		mp4.BoxTypeTfhd(), mp4.BoxTypeTfdt(), mp4.BoxTypeTrun():
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		s.apply(box)
	}
	return nil, nil
}

func (s *fmp4Scan) apply(box mp4.IBox) {
	switch b := box.(type) {
	case *mp4.Tkhd:
		if t := s.lastTrack(); t != nil {
			t.id = b.TrackID
		}
	case *mp4.Mdhd:
		if t := s.lastTrack(); t != nil {
			t.timescale = b.Timescale
		}
	case *mp4.Hdlr:
		if t := s.lastTrack(); t != nil {
			t.handler = string(b.HandlerType[:])
		}
	case *mp4.Trex:
		if t := s.track(b.TrackID); t != nil {
			t.defaultDuration = b.DefaultSampleDuration
			t.defaultFlags = b.DefaultSampleFlags
		}
	case *mp4.Tfhd:
		s.traf.track = s.track(b.TrackID)
		if b.CheckFlag(mp4.TfhdDefaultSampleDurationPresent) {
			s.traf.hasDuration = true
			s.traf.duration = b.DefaultSampleDuration
		}
		if b.CheckFlag(mp4.TfhdDefaultSampleFlagsPresent) {
			s.traf.hasFlags = true
			s.traf.flags = b.DefaultSampleFlags
		}
	case *mp4.Tfdt:
		if s.cur != nil && s.traf.track != nil && s.traf.track == s.primary {
			s.cur.start = b.GetBaseMediaDecodeTime()
		}
	case *mp4.Trun:
		s.applyTrun(b)
	}
}

func (s *fmp4Scan) applyTrun(trun *mp4.Trun) {
	if s.cur == nil || s.traf.track == nil || s.traf.track != s.primary {
		return
	}
	track := s.traf.track
	defaultDuration := track.defaultDuration
	if s.traf.hasDuration {
		defaultDuration = s.traf.duration
	}
	defaultFlags := track.defaultFlags
	if s.traf.hasFlags {
		defaultFlags = s.traf.flags
	}

	flags := trun.GetFlags()
	for i := uint32(0); i < trun.SampleCount; i++ {
		d := defaultDuration
		if flags&0x000100 != 0 && int(i) < len(trun.Entries) {
			d = trun.Entries[i].SampleDuration
		}
		s.cur.duration += uint64(d)
	}

	if s.cur.sawTrack || trun.SampleCount == 0 {
		return
	}
	s.cur.sawTrack = true
	first := defaultFlags
	switch {
	case flags&0x000004 != 0:
		first = trun.FirstSampleFlags
	case flags&0x000400 != 0 && len(trun.Entries) > 0:
		first = trun.Entries[0].SampleFlags
	}
	s.cur.keyframe = first&nonSyncSample == 0
}

func (s *fmp4Scan) lastTrack() *trackInfo {
	if len(s.tracks) == 0 {
		return nil
	}
	return s.tracks[len(s.tracks)-1]
}

func (s *fmp4Scan) track(id uint32) *trackInfo {
	for _, t := range s.tracks {
		if t.id == id {
			return t
		}
	}
	return nil
}

// pickPrimary prefers the first video track; segment timing follows it.
func (s *fmp4Scan) pickPrimary() *trackInfo {
	for _, t := range s.tracks {
		if t.handler == "vide" {
			return t
		}
	}
	if len(s.tracks) > 0 {
		return s.tracks[0]
	}
	return nil
}

// attachMdat extends each fragment over the media data boxes that follow its
// moof, stopping at the next moof or any trailing index box.
func (s *fmp4Scan) attachMdat() {
	idx := -1
	for i, typ := range s.topTypes {
		switch typ {
		case mp4.BoxTypeMoof():
			idx++
		case mp4.BoxTypeMdat():
			if idx >= 0 && idx < len(s.fragments) {
				info := s.topInfo[i]
				s.fragments[idx].end = info.Offset + info.Size
			}
		}
	}
}
