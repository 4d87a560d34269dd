/*
cost.go - Worksheet generation cost calculator

PURPOSE:
  Pure function mapping a generation request's shape to an integer credit
  cost. The same calculation runs at request time in the UI and server-side
  before the debit; it must stay deterministic so the two never disagree.

RULE:
  Base cost 1. Doubled if the subject or topic mentions diagram-requiring
  material (case-insensitive substring match). Doubled again, independently,
  if more than 15 questions are requested. Maximum cost is therefore 4.
*/
package credits

import "strings"

// LargeWorksheetThreshold is the question count above which cost doubles.
const LargeWorksheetThreshold = 15

// diagramKeywords trigger the diagram surcharge when found in the subject
// or topic. Matching is a boolean OR over substrings; order is irrelevant.
var diagramKeywords = []string{
	"geometry",
	"physics",
	"science",
	"shape",
	"circuit",
	"force",
	"trigonometr",
	"graph",
	"diagram",
	"angle",
	"triangle",
	"circle",
	"vector",
}

// Cost returns the credit cost for one worksheet generation.
// Empty or unmatched subject/topic defaults to the base cost of 1.
func Cost(subject, topic string, questionCount int) int {
	cost := 1
	if requiresDiagram(subject) || requiresDiagram(topic) {
		cost *= 2
	}
	if questionCount > LargeWorksheetThreshold {
		cost *= 2
	}
	return cost
}

func requiresDiagram(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range diagramKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
