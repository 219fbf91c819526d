package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for book documents.
//
// Title and author get English stemming and term vectors for highlighting.
// The genre slug is a keyword field for exact filtering, while the display
// genre uses the simple analyzer so "science fiction" still matches loosely.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = en.AnalyzerName
	titleFieldMapping.Store = true
	titleFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("title", titleFieldMapping)

	authorFieldMapping := bleve.NewTextFieldMapping()
	authorFieldMapping.Analyzer = en.AnalyzerName
	authorFieldMapping.Store = true
	authorFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("author", authorFieldMapping)

	genreFieldMapping := bleve.NewTextFieldMapping()
	genreFieldMapping.Analyzer = simple.Name
	genreFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("genre", genreFieldMapping)

	genreSlugFieldMapping := bleve.NewTextFieldMapping()
	genreSlugFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("genre_slug", genreSlugFieldMapping)

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	// Numeric fields for range filters and sorting.
	for _, field := range []string{"year", "average_rating", "created_at"} {
		numeric := bleve.NewNumericFieldMapping()
		numeric.Store = true
		docMapping.AddFieldMappingsAt(field, numeric)
	}

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}
