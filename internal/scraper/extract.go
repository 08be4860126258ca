package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/certlookup/internal/grading"
)

// Extract parses a rendered result page into a GameRecord. Missing fields are
// nil; the population report is filled only when its container exists.
func Extract(html string, sel Selectors) (grading.GameRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return grading.GameRecord{}, fmt.Errorf("parse result html: %w", err)
	}

	record := grading.GameRecord{
		Title:             text(doc, sel.Title),
		Grade:             text(doc, sel.Grade),
		Platform:          text(doc, sel.Platform),
		CertificationDate: text(doc, sel.CertDate),
	}
	if sel.Population != "" && doc.Find(sel.Population).Length() > 0 {
		record.PopulationReport = grading.PopulationReport{
			Available: true,
			Data: &grading.PopulationData{
				TotalGraded:  text(doc, sel.PopulationTotal),
				HigherGrades: text(doc, sel.PopulationHigher),
				SameGrade:    text(doc, sel.PopulationSame),
				LowerGrades:  text(doc, sel.PopulationLower),
			},
		}
	}
	return record, nil
}

// text returns the trimmed text of the first match, or nil when nothing matches.
func text(doc *goquery.Document, selector string) *string {
	if selector == "" {
		return nil
	}
	node := doc.Find(selector).First()
	if node.Length() == 0 {
		return nil
	}
	return grading.StringPtr(strings.TrimSpace(node.Text()))
}
