package visuals

// Rendition is one encoded file of a stock video
type Rendition struct {
	Quality string `json:"quality"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Link    string `json:"link"`
}

// Candidate is one search hit
type Candidate struct {
	ID         int         `json:"id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Duration   float64     `json:"duration"`
	Renditions []Rendition `json:"video_files"`
}

// Ranker scores candidates on duration and resolution
type Ranker struct {
	MinDuration float64
	MaxDuration float64
	HDWidth     int
}

// DefaultRanker prefers 5-30s clips with a 1280px or wider rendition
var DefaultRanker = Ranker{MinDuration: 5, MaxDuration: 30, HDWidth: 1280}

// Score is the duration score plus the quality score, each 1 or 2
func (r Ranker) Score(c Candidate) int {
	score := 1
	if c.Duration >= r.MinDuration && c.Duration <= r.MaxDuration {
		score = 2
	}
	for _, f := range c.Renditions {
		if f.Width >= r.HDWidth {
			return score + 2
		}
	}
	return score + 1
}

// Best returns the highest scoring candidate. Ties keep the earliest one,
// so the search API's own relevance order breaks them.
func (r Ranker) Best(candidates []Candidate) (Candidate, int, bool) {
	if len(candidates) == 0 {
		return Candidate{}, 0, false
	}
	best, bestScore := candidates[0], r.Score(candidates[0])
	for _, c := range candidates[1:] {
		if s := r.Score(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore, true
}

// PickRendition prefers an exact 1280 or 1920 wide file, else the first one
func PickRendition(c Candidate) (Rendition, bool) {
	if len(c.Renditions) == 0 {
		return Rendition{}, false
	}
	for _, f := range c.Renditions {
		if f.Width == 1280 || f.Width == 1920 {
			return f, true
		}
	}
	return c.Renditions[0], true
}
