package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/google/uuid"
)

const (
	// DefaultSize is the per-fragment byte ceiling for serialized payload text.
	DefaultSize = 30 * 1024

	PayloadKey     = "chunk"
	MetaChunkID    = "chunkId"
	MetaChunkSeq   = "chunkSequence"
	MetaChunkTotal = "chunkTotal"
)

var (
	ErrMalformedChunk = errors.New("chunk: malformed fragment metadata")
	ErrInvalidSize    = errors.New("chunk: invalid chunk size")
)

// Chunker splits oversized event payloads into transport-safe fragments.
type Chunker struct {
	Size  int
	NewID func() string
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	return &Chunker{Size: size, NewID: uuid.NewString}
}

// Chunk serializes ev's payload and returns one fragment per Size-byte slice.
// An event without payload yields no fragments.
func (c *Chunker) Chunk(ev event.Event) ([]event.Event, error) {
	if c.Size < utf8.UTFMax {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, c.Size)
	}
	if ev.Payload == nil {
		return nil, nil
	}
	data, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return nil, err
	}
	bounds := splitPoints(data, c.Size)
	total := len(bounds) - 1
	newID := c.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	// The source event id names the fragment set so the stitched event keeps it.
	chunkID := ev.ID
	if chunkID == "" {
		chunkID = newID()
	}

	out := make([]event.Event, 0, total)
	for i := 0; i < total; i++ {
		slice := data[bounds[i]:bounds[i+1]]
		out = append(out, event.Event{
			ID:        newID(),
			Vendor:    ev.Vendor,
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
			Sequence:  ev.Sequence,
			Payload:   map[string]any{PayloadKey: string(slice)},
			Metadata: map[string]any{
				MetaChunkID:    chunkID,
				MetaChunkSeq:   i,
				MetaChunkTotal: total,
			},
		})
	}
	return out, nil
}

// splitPoints returns byte offsets [0, ..., len(data)] such that every slice
// is at most size bytes and starts on a rune boundary.
func splitPoints(data []byte, size int) []int {
	points := []int{0}
	start := 0
	for start < len(data) {
		end := start + size
		if end >= len(data) {
			end = len(data)
		} else {
			for end > start && !utf8.RuneStart(data[end]) {
				end--
			}
			if end == start {
				end = start + size
			}
		}
		points = append(points, end)
		start = end
	}
	return points
}

// Info is the chunk bookkeeping carried in a fragment's metadata.
type Info struct {
	ID       string
	Sequence int
	Total    int
}

// IsFragment reports whether ev carries chunk metadata.
func IsFragment(ev event.Event) bool {
	if ev.Metadata == nil {
		return false
	}
	_, ok := ev.Metadata[MetaChunkID]
	return ok
}

// ParseInfo extracts and validates chunk metadata.
func ParseInfo(ev event.Event) (Info, error) {
	if ev.Metadata == nil {
		return Info{}, fmt.Errorf("%w: missing metadata", ErrMalformedChunk)
	}
	id, ok := ev.Metadata[MetaChunkID].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return Info{}, fmt.Errorf("%w: missing %s", ErrMalformedChunk, MetaChunkID)
	}
	seq, ok := asInt(ev.Metadata[MetaChunkSeq])
	if !ok {
		return Info{}, fmt.Errorf("%w: missing %s", ErrMalformedChunk, MetaChunkSeq)
	}
	total, ok := asInt(ev.Metadata[MetaChunkTotal])
	if !ok {
		return Info{}, fmt.Errorf("%w: missing %s", ErrMalformedChunk, MetaChunkTotal)
	}
	if total <= 0 || seq < 0 || seq >= total {
		return Info{}, fmt.Errorf("%w: sequence=%d total=%d", ErrMalformedChunk, seq, total)
	}
	return Info{ID: id, Sequence: seq, Total: total}, nil
}

// Stitch reassembles one complete fragment set into the original event.
// Incomplete or inconsistent sets return false.
func Stitch(fragments []event.Event) (event.Event, bool) {
	if len(fragments) == 0 {
		return event.Event{}, false
	}
	type part struct {
		info Info
		ev   event.Event
	}
	parts := make([]part, 0, len(fragments))
	for _, frag := range fragments {
		info, err := ParseInfo(frag)
		if err != nil {
			return event.Event{}, false
		}
		parts = append(parts, part{info: info, ev: frag})
	}
	first := parts[0].info
	for _, p := range parts {
		if p.info.ID != first.ID || p.info.Total != len(parts) {
			return event.Event{}, false
		}
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].info.Sequence < parts[j].info.Sequence
	})

	var b strings.Builder
	for i, p := range parts {
		if p.info.Sequence != i {
			return event.Event{}, false
		}
		text, ok := p.ev.Payload[PayloadKey].(string)
		if !ok {
			return event.Event{}, false
		}
		b.WriteString(text)
	}
	payload, err := event.UnmarshalPayload([]byte(b.String()))
	if err != nil {
		return event.Event{}, false
	}

	head := parts[0].ev
	return event.Event{
		ID:        first.ID,
		Vendor:    head.Vendor,
		Type:      head.Type,
		Timestamp: head.Timestamp,
		Sequence:  head.Sequence,
		Payload:   payload,
	}, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
