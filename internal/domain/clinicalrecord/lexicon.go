package clinicalrecord

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var defaultUrgencyKeywords = []string{
	"pain", "vomit", "acute", "emergency", "fainting", "dehydrat", "bleeding", "hypoglyc",
	"dolor", "vómito", "vomito", "agudo", "aguda", "urgencia", "emergencia", "desmayo",
	"deshidrat", "sangrado", "hipoglucemia",
}

// Lexicon is the keyword list that marks an unscheduled consultation as urgent.
type Lexicon struct {
	keywords []string
}

func NewLexicon(keywords []string) *Lexicon {
	l := &Lexicon{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			l.keywords = append(l.keywords, k)
		}
	}
	return l
}

// DefaultLexicon carries the built-in English and Spanish keywords.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultUrgencyKeywords)
}

type lexiconFile struct {
	Keywords []string `yaml:"keywords"`
}

// LoadLexicon reads a YAML document of the form `keywords: [...]`. An empty
// path yields the default lexicon.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read urgency lexicon: %w", err)
	}
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse urgency lexicon %s: %w", path, err)
	}
	l := NewLexicon(f.Keywords)
	if len(l.keywords) == 0 {
		return nil, fmt.Errorf("urgency lexicon %s has no keywords", path)
	}
	return l, nil
}

// Matches reports whether reason contains any keyword, ignoring case.
func (l *Lexicon) Matches(reason string) bool {
	reason = strings.ToLower(reason)
	for _, k := range l.keywords {
		if strings.Contains(reason, k) {
			return true
		}
	}
	return false
}

func (l *Lexicon) Len() int {
	return len(l.keywords)
}
