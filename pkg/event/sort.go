package event

import "sort"

// ApplySort orders events in place per the requested Sort, then ApplyPagination should be
// used to slice the result. When Attribute(name) is chosen, events missing the attribute
// sort last (ascending) or first (descending), per §4.1.
func ApplySort(events []Event, s *Sort) {
	if s == nil || len(events) < 2 {
		return
	}
	less := lessFunc(events, *s)
	sort.SliceStable(events, less)
}

func lessFunc(events []Event, s Sort) func(i, j int) bool {
	asc := s.Direction == Ascending
	switch s.Field {
	case SortBlockNumber:
		return func(i, j int) bool {
			if asc {
				return events[i].BlockNumber < events[j].BlockNumber
			}
			return events[i].BlockNumber > events[j].BlockNumber
		}
	case SortTimestamp:
		return func(i, j int) bool {
			if asc {
				return events[i].Timestamp.Before(events[j].Timestamp)
			}
			return events[i].Timestamp.After(events[j].Timestamp)
		}
	case SortEventType:
		return func(i, j int) bool {
			if asc {
				return events[i].EventType < events[j].EventType
			}
			return events[i].EventType > events[j].EventType
		}
	case SortChain:
		return func(i, j int) bool {
			if asc {
				return events[i].Chain < events[j].Chain
			}
			return events[i].Chain > events[j].Chain
		}
	case SortTxHash:
		return func(i, j int) bool {
			if asc {
				return events[i].TxHash < events[j].TxHash
			}
			return events[i].TxHash > events[j].TxHash
		}
	case SortAttribute:
		name := s.AttributeName
		return func(i, j int) bool {
			vi, oki := newParsedEvent(events[i]).attributes()[name]
			vj, okj := newParsedEvent(events[j]).attributes()[name]
			if !oki && !okj {
				return false
			}
			if !oki {
				// missing sorts last ascending, first descending
				return !asc
			}
			if !okj {
				return asc
			}
			if asc {
				return toStringValue(vi) < toStringValue(vj)
			}
			return toStringValue(vi) > toStringValue(vj)
		}
	default:
		return func(i, j int) bool { return false }
	}
}

// DefaultOrder sorts by (chain, block_number, id), the total order §4.2 names when no
// sort criteria are given.
func DefaultOrder(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Chain != events[j].Chain {
			return events[i].Chain < events[j].Chain
		}
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].ID < events[j].ID
	})
}

// ApplyPagination slices events by offset/limit; limit == 0 means unbounded.
func ApplyPagination(events []Event, offset, limit int) []Event {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return nil
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
