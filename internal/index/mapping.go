package index

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document field names.
const (
	fieldMessageID     = "messageId"
	fieldThreadID      = "threadId"
	fieldSenderID      = "senderId"
	fieldText          = "text"
	fieldIngestionDate = "ingestionDate"
	fieldHas           = "has"
	fieldChatType      = "chatType"
)

// MessageAnalyzerName is the analyzer applied to message text.
const MessageAnalyzerName = "message_text"

// newMessageMapping builds the index mapping for chat messages: text is
// analyzed, ids and attachment kinds are exact keywords, ingestionDate is
// numeric for range filters and date sorting.
func newMessageMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(MessageAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add message analyzer: %w", err)
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = MessageAnalyzerName
	text.Store = true
	text.IncludeTermVectors = false

	date := bleve.NewNumericFieldMapping()
	date.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldIngestionDate, date)
	for _, name := range []string{fieldMessageID, fieldThreadID, fieldSenderID, fieldHas, fieldChatType} {
		kw := bleve.NewKeywordFieldMapping()
		kw.Analyzer = keyword.Name
		kw.Store = true
		doc.AddFieldMappingsAt(name, kw)
	}

	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = MessageAnalyzerName
	return indexMapping, nil
}
