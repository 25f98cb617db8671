package anthropic

import (
	"encoding/json"

	"github.com/Strob0t/turnforge/internal/domain/stream"
)

// rawCitation covers the location variants Anthropic attaches to text blocks.
type rawCitation struct {
	Type              string `json:"type"`
	CitedText         string `json:"cited_text"`
	DocumentIndex     *int   `json:"document_index"`
	DocumentTitle     string `json:"document_title"`
	URL               string `json:"url"`
	Source            string `json:"source"`
	Title             string `json:"title"`
	StartCharIndex    *int   `json:"start_char_index"`
	EndCharIndex      *int   `json:"end_char_index"`
	StartPageNumber   *int   `json:"start_page_number"`
	EndPageNumber     *int   `json:"end_page_number"`
	StartBlockIndex   *int   `json:"start_block_index"`
	EndBlockIndex     *int   `json:"end_block_index"`
	SearchResultIndex *int   `json:"search_result_index"`
}

func parseCitations(raw []json.RawMessage) []stream.Citation {
	if len(raw) == 0 {
		return nil
	}
	out := make([]stream.Citation, 0, len(raw))
	for _, r := range raw {
		var rc rawCitation
		if err := json.Unmarshal(r, &rc); err != nil {
			continue
		}
		out = append(out, rc.normalize())
	}
	return out
}

func (rc rawCitation) normalize() stream.Citation {
	c := stream.Citation{Text: rc.CitedText, DocumentIndex: rc.DocumentIndex}
	switch {
	case rc.URL != "":
		c.Source = rc.URL
	case rc.Source != "":
		c.Source = rc.Source
	case rc.DocumentTitle != "":
		c.Source = rc.DocumentTitle
	default:
		c.Source = rc.Title
	}
	if c.DocumentIndex == nil && rc.SearchResultIndex != nil {
		c.DocumentIndex = rc.SearchResultIndex
	}

	switch {
	case rc.StartCharIndex != nil:
		c.Location = span("char", rc.StartCharIndex, rc.EndCharIndex)
	case rc.StartPageNumber != nil:
		c.Location = span("page", rc.StartPageNumber, rc.EndPageNumber)
	case rc.StartBlockIndex != nil:
		c.Location = span("block", rc.StartBlockIndex, rc.EndBlockIndex)
	}
	return c
}

func span(kind string, start, end *int) *stream.CitationLocation {
	loc := &stream.CitationLocation{Kind: kind, Start: *start, End: *start}
	if end != nil {
		loc.End = *end
	}
	return loc
}
