package skyline

import "math"

// SPWLines groups the lines detected in one spectral window
type SPWLines struct {
	SPW   int
	NChan int
	Lines []Record
}

// Selection identifies the representative line picked by Grade
type Selection struct {
	SPW    int    `json:"spw" msgpack:"spw"`
	Index  int    `json:"index" msgpack:"index"`
	Record Record `json:"record" msgpack:"record"`
}

// Grade normalizes line depths jointly across every spectral window and
// weights them by proximity to the window center:
//
//	grade = depth/maxdepth × (1 − centerWeight·|2·(pos − N/2)/N|)
//
// It returns graded copies of the input and the best line. Ties go to the
// first line in input order. ok is false when no line exists.
func Grade(spws []SPWLines, centerWeight float64) (graded []SPWLines, best Selection, ok bool) {
	maxDepth := 0.0
	for _, s := range spws {
		for _, r := range s.Lines {
			if r.PeakDepth > maxDepth {
				maxDepth = r.PeakDepth
			}
		}
	}

	bestGrade := math.Inf(-1)
	graded = make([]SPWLines, len(spws))
	for i, s := range spws {
		graded[i] = SPWLines{SPW: s.SPW, NChan: s.NChan, Lines: make([]Record, len(s.Lines))}
		for j, r := range s.Lines {
			norm := 0.0
			if maxDepth > 0 {
				norm = r.PeakDepth / maxDepth
			}
			offset := 0.0
			if s.NChan > 0 {
				n := float64(s.NChan)
				offset = math.Abs(2 * (float64(r.PeakChannel) - n/2) / n)
			}
			r.Grade = norm * (1 - centerWeight*offset)
			graded[i].Lines[j] = r

			if r.Grade > bestGrade {
				bestGrade = r.Grade
				best = Selection{SPW: s.SPW, Index: j, Record: r}
				ok = true
			}
		}
	}
	return graded, best, ok
}
