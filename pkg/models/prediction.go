package models

import (
	"strings"
	"time"
)

// Prediction is the cached result bundle for one image fingerprint.
// Answers maps a normalized query to the model's answer.
type Prediction struct {
	ShortCaption  string            `json:"short_caption"`
	NormalCaption string            `json:"normal_caption"`
	Answers       map[string]string `json:"answers,omitempty"`
	Model         string            `json:"model"`
	CreatedAt     time.Time         `json:"created_at"`
}

// HasCaptions reports whether both captions are present.
func (p *Prediction) HasCaptions() bool {
	return p != nil && p.ShortCaption != "" && p.NormalCaption != ""
}

// Answer returns the cached answer for query, if any.
func (p *Prediction) Answer(query string) (string, bool) {
	if p == nil || p.Answers == nil {
		return "", false
	}
	a, ok := p.Answers[NormalizeQuery(query)]
	return a, ok
}

// With returns a copy of p carrying the given captions and answer. The
// receiver is left untouched so cached values are never mutated in place.
func (p *Prediction) With(short, normal, query, answer string) *Prediction {
	next := &Prediction{
		ShortCaption:  short,
		NormalCaption: normal,
		Answers:       make(map[string]string),
		CreatedAt:     time.Now().UTC(),
	}
	if p != nil {
		next.Model = p.Model
		for k, v := range p.Answers {
			next.Answers[k] = v
		}
	}
	if query != "" {
		next.Answers[NormalizeQuery(query)] = answer
	}
	return next
}

// NormalizeQuery folds case and whitespace so equivalent questions share a cache slot.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
