package models

import (
	"time"

	"github.com/kbpicker/kb-picker/internal/constants"
)

// EmbeddingParams selects the embedding model used while indexing.
// APIKey is always serialized; null means the backend default key.
type EmbeddingParams struct {
	EmbeddingModel string  `json:"embedding_model"`
	APIKey         *string `json:"api_key"`
}

// ChunkerParams controls how documents are split before embedding.
type ChunkerParams struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Chunker      string `json:"chunker"`
}

// IndexingParams is the indexing configuration attached to a new knowledge base.
type IndexingParams struct {
	OCR             bool            `json:"ocr"`
	Unstructured    bool            `json:"unstructured"`
	EmbeddingParams EmbeddingParams `json:"embedding_params"`
	ChunkerParams   ChunkerParams   `json:"chunker_params"`
}

// DefaultIndexingParams returns the backend defaults for new knowledge bases.
func DefaultIndexingParams() IndexingParams {
	return IndexingParams{
		OCR:          false,
		Unstructured: true,
		EmbeddingParams: EmbeddingParams{
			EmbeddingModel: constants.DefaultEmbeddingModel,
		},
		ChunkerParams: ChunkerParams{
			ChunkSize:    constants.DefaultChunkSize,
			ChunkOverlap: constants.DefaultChunkOverlap,
			Chunker:      constants.DefaultChunker,
		},
	}
}

// CreateKnowledgeBaseRequest is the body of POST /knowledge_bases.
// OrgLevelRole and CronJobID are sent as explicit nulls.
type CreateKnowledgeBaseRequest struct {
	ConnectionID        string         `json:"connection_id"`
	ConnectionSourceIDs []string       `json:"connection_source_ids"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	IndexingParams      IndexingParams `json:"indexing_params"`
	OrgLevelRole        *string        `json:"org_level_role"`
	CronJobID           *string        `json:"cron_job_id"`
}

// KnowledgeBase is a server-side index built from a set of connection resources.
type KnowledgeBase struct {
	KnowledgeBaseID string     `json:"knowledge_base_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	ConnectionID    string     `json:"connection_id,omitempty"`
	OrgID           string     `json:"org_id,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// DefaultKnowledgeBaseName returns "Knowledge Base <timestamp>" for t.
func DefaultKnowledgeBaseName(t time.Time) string {
	return constants.KnowledgeBaseNamePrefix + t.Format("2006-01-02 15:04:05")
}
