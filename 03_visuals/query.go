package visuals

import (
	"regexp"
	"strings"
)

// TopicContext narrows stock searches to the story's subject
type TopicContext struct {
	Topic    string
	SubTopic string
}

const maxQueryWords = 5

var (
	nonLetters  = regexp.MustCompile(`[^a-z\s]`)
	nonWordChar = regexp.MustCompile(`[^\w\s]`)
)

// filler words that never help a footage search
var stopWords = setOf(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "for", "with", "by", "as",
	"is", "are", "was", "were", "this", "that", "these", "those",
	"showing", "shows", "show", "scene", "visual", "footage", "image", "background",
	"people", "person", "man", "woman", "working",
)

// domain terms that keep results on topic when present in a description
var priorityWords = setOf(
	// tech
	"quantum", "computing", "technology", "computer", "processor", "chip", "algorithm", "data",
	"server", "circuit", "electronics", "semiconductor", "software", "hardware", "code", "programming",
	// outdoors
	"hiking", "trail", "mountain", "nature", "forest", "wilderness", "outdoor", "camping",
	"backpacking", "scenic", "landscape", "peak", "summit", "valley",
	// politics
	"government", "congress", "senate", "capitol", "president", "legislation", "policy",
	"political", "federal", "washington", "parliament",
	// defense
	"military", "defense", "army", "navy", "soldier", "weapon", "combat", "tactical", "warfare",
	"forces", "troops",
	// space
	"space", "rocket", "satellite", "nasa", "telescope", "astronaut", "planet", "mars", "moon",
	"orbit", "launch", "spacecraft", "galaxy", "star",
	// science
	"research", "scientist", "laboratory", "experiment", "innovation", "discovery", "scientific",
	"study", "analysis", "microscope",
	// business
	"business", "economy", "market", "finance", "industry", "company", "corporate", "stock",
	"trade", "investment",
)

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// BuildQuery turns a visual description into a short stock-footage search.
// The topic always leads; up to two priority terms follow, plus one regular
// word when there is room. The result is at most five words.
func BuildQuery(description string, topic TopicContext) string {
	prefix := topicPrefix(topic)

	var priority, regular []string
	for _, w := range strings.Fields(nonWordChar.ReplaceAllString(strings.ToLower(description), " ")) {
		if len(w) <= 2 || stopWords[w] {
			continue
		}
		switch {
		case priorityWords[w]:
			priority = append(priority, w)
		case len(w) > 3:
			regular = append(regular, w)
		}
	}

	terms := strings.Fields(prefix)
	switch {
	case len(priority) > 0:
		terms = append(terms, firstN(priority, 2)...)
		if len(regular) > 0 && len(terms) < maxQueryWords {
			terms = append(terms, regular[0])
		}
	case len(regular) > 0:
		terms = append(terms, firstN(regular, 2)...)
	}

	if len(terms) == 0 {
		if prefix != "" {
			terms = strings.Fields(prefix)
		} else {
			terms = strings.Fields(truncateRunes(description, 30))
		}
	}
	return strings.Join(firstN(terms, maxQueryWords), " ")
}

func topicPrefix(topic TopicContext) string {
	src := topic.SubTopic
	if strings.TrimSpace(src) == "" {
		src = topic.Topic
	}
	return strings.TrimSpace(nonLetters.ReplaceAllString(strings.ToLower(src), " "))
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
