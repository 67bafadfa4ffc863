package imount

// Evidence is one piece of information about a volume's filesystem type,
// e.g. {Source: "blkid", Description: "ntfs"} or {Source: "guid",
// Description: "CA7D7CCB-..."}. The classifier consumes evidence sources
// in the order they're supplied and stops early once a type is
// confidently ahead.
type Evidence struct {
	Source      string
	Description string
}

// earlyStopThreshold mirrors determine_fs_type's rule: stop consulting
// further evidence sources once one type's cumulative score reaches this
// (inclusive) and no other type is tied with it.
const earlyStopThreshold = 50

// ClassifyFileSystem scores every registered Detector against each piece
// of evidence in order, accumulating per-type scores, and returns the
// winning type name. If nothing scored above zero it returns fallback
// (which may be "unknown").
func ClassifyFileSystem(evidence []Evidence, fallback string) string {
	scores := map[string]int{}

	for _, ev := range evidence {
		for _, d := range detectors() {
			for fsType, delta := range d.Detect(ev.Source, ev.Description) {
				scores[fsType] += delta
			}
		}
		if best, uniqueMax := topScore(scores); uniqueMax && best >= earlyStopThreshold {
			break
		}
	}

	best, unique := topScore(scores)
	if unique && best > 0 {
		for fsType, score := range scores {
			if score == best {
				return fsType
			}
		}
	}
	return fallback
}

// topScore returns the highest score in scores and whether exactly one
// type holds it.
func topScore(scores map[string]int) (int, bool) {
	best := 0
	count := 0
	first := true
	for _, score := range scores {
		if first || score > best {
			best = score
			count = 1
			first = false
		} else if score == best {
			count++
		}
	}
	if first {
		return 0, false
	}
	return best, count == 1
}

// ResolveFSType applies the index-pattern fstypes map the Parser is
// configured with: an exact dotted index wins, then "*" overrides every
// volume, then "?" supplies a fallback used only when detection itself
// found nothing, matching parser.py's fstypes semantics.
func ResolveFSType(fstypes map[string]string, index string) (forced string, fallback string) {
	if t, ok := fstypes[index]; ok {
		return t, ""
	}
	if t, ok := fstypes["*"]; ok {
		return t, ""
	}
	if t, ok := fstypes["?"]; ok {
		return "", t
	}
	return "", "unknown"
}
