// Package dedup tracks which messages a scrape session has already seen.
package dedup

import (
	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// Outcome reports what Admit did with a message.
type Outcome int

const (
	// Added means the message was new and was appended to the buffer.
	Added Outcome = iota
	// Duplicate means the key was already buffered; the message was dropped.
	Duplicate
	// Upgraded means a network record replaced an unflushed DOM record in place.
	Upgraded
	// Resolved means a record of known side settled the side of a buffered
	// record that had none.
	Resolved
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Upgraded:
		return "upgraded"
	case Resolved:
		return "resolved"
	default:
		return "duplicate"
	}
}

// Set maps each identity key seen in a session to the buffer index that owns
// it. It is not safe for concurrent use; the session buffer lock covers it.
type Set struct {
	index map[message.IdentityKey]int
	texts map[message.IdentityKey][]int
}

// New returns an empty set.
func New() *Set {
	return &Set{
		index: make(map[message.IdentityKey]int),
		texts: make(map[message.IdentityKey][]int),
	}
}

// Len returns the number of distinct keys admitted.
func (s *Set) Len() int {
	return len(s.index)
}

// Seen reports whether key has been admitted.
func (s *Set) Seen(key message.IdentityKey) bool {
	_, ok := s.index[key]
	return ok
}

// Admit merges m into buf. Entries at or past persisted have not been flushed
// yet and may still be upgraded by a network record for the same key.
//
// A message whose side is unknown matches any buffered message with the same
// text, and a later message of known side with that text settles it.
func (s *Set) Admit(buf []message.Normalized, persisted int, m message.Normalized) ([]message.Normalized, Outcome) {
	if m.SideUnknown {
		return s.admitUnknown(buf, persisted, m)
	}

	key := m.Key()
	idx, ok := s.index[key]
	if !ok {
		if j, found := s.unknownSide(buf, key); found {
			return s.resolve(buf, persisted, j, m)
		}
		return s.add(buf, key, m), Added
	}

	if idx < persisted || idx >= len(buf) {
		return buf, Duplicate
	}
	if buf[idx].SideUnknown {
		buf[idx].SideUnknown = false
	}
	if m.Source == message.SourceNetwork && buf[idx].Source == message.SourceDOM {
		buf[idx] = upgrade(buf[idx], m)
		return buf, Upgraded
	}
	return buf, Duplicate
}

func (s *Set) admitUnknown(buf []message.Normalized, persisted int, m message.Normalized) ([]message.Normalized, Outcome) {
	key := m.Key()
	matches := s.texts[key.TextKey()]
	for _, j := range matches {
		if j >= persisted && j < len(buf) && buf[j].Source == message.SourceDOM {
			fromOwner := buf[j].IsFromOwner
			merged := upgrade(buf[j], m)
			merged.IsFromOwner = fromOwner
			merged.SideUnknown = false
			buf[j] = merged
			return buf, Upgraded
		}
	}
	if len(matches) > 0 {
		return buf, Duplicate
	}
	return s.add(buf, key, m), Added
}

// unknownSide finds a buffered record with the same text whose side is unknown.
func (s *Set) unknownSide(buf []message.Normalized, key message.IdentityKey) (int, bool) {
	for _, j := range s.texts[key.TextKey()] {
		if j < len(buf) && buf[j].SideUnknown {
			return j, true
		}
	}
	return 0, false
}

// resolve gives the unknown-side record at j the side of m. Once flushed the
// record keeps its guessed side and m is dropped.
func (s *Set) resolve(buf []message.Normalized, persisted, j int, m message.Normalized) ([]message.Normalized, Outcome) {
	if j < persisted {
		return buf, Duplicate
	}

	var merged message.Normalized
	if m.Source == message.SourceDOM {
		merged = upgrade(m, buf[j])
	} else {
		merged = upgrade(buf[j], m)
	}
	merged.IsFromOwner = m.IsFromOwner
	merged.SideUnknown = false

	delete(s.index, buf[j].Key())
	s.index[merged.Key()] = j
	buf[j] = merged
	return buf, Resolved
}

func (s *Set) add(buf []message.Normalized, key message.IdentityKey, m message.Normalized) []message.Normalized {
	s.index[key] = len(buf)
	s.texts[key.TextKey()] = append(s.texts[key.TextKey()], len(buf))
	return append(buf, m)
}

// upgrade prefers the network record but keeps DOM fields the API left empty.
func upgrade(dom, net message.Normalized) message.Normalized {
	out := net
	if out.Timestamp == nil {
		out.Timestamp = dom.Timestamp
	}
	if !out.IsPaid && dom.IsPaid {
		out.IsPaid = true
		if out.AmountPaid == 0 {
			out.AmountPaid = dom.AmountPaid
		}
	}
	return out
}
