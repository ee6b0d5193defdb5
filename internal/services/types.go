// Package services provides frontend-agnostic business logic for the picker.
// This layer sits between the TUI/CLI and the backend client, so any frontend
// drives the same tree, overlay and session state.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/session"
	"github.com/kbpicker/kb-picker/internal/store"
)

// Sentinel errors returned by PickerService.
var (
	ErrNothingSelected       = errors.New("nothing selected")
	ErrNoActiveKnowledgeBase = errors.New("no active knowledge base")
	ErrNotConnected          = errors.New("no drive connection configured")
	ErrNoOrganization        = errors.New("organization id unknown (run 'kb-picker login')")
)

// KnowledgeBaseAPI is the backend surface the picker needs. *api.Client
// satisfies it.
type KnowledgeBaseAPI interface {
	ListChildren(ctx context.Context, connectionID, folderID string) ([]models.Resource, error)
	CreateKnowledgeBase(ctx context.Context, req models.CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error)
	TriggerSync(ctx context.Context, orgID, knowledgeBaseID string) error
	ListKnowledgeBaseResources(ctx context.Context, knowledgeBaseID, resourcePath string) ([]models.Resource, error)
	DeleteKnowledgeBaseResource(ctx context.Context, knowledgeBaseID, resourcePath string) error
}

// HistoryStore persists knowledge base history and the session. *store.Store
// satisfies it.
type HistoryStore interface {
	RecordKnowledgeBase(ctx context.Context, rec store.KnowledgeBaseRecord, resources []store.IndexedResource) error
	TouchKnowledgeBase(ctx context.Context, id string) error
	ForgetResource(ctx context.Context, kbID, resourceID string) error
	KnowledgeBaseResources(ctx context.Context, kbID string) ([]store.IndexedResource, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error
	SaveSnapshot(ctx context.Context, snap session.Snapshot) error
	LoadSnapshot(ctx context.Context) (session.Snapshot, error)
	Clear(ctx context.Context) error
}

// IndexOptions controls knowledge base creation.
type IndexOptions struct {
	// Name of the knowledge base; "Knowledge Base <timestamp>" when empty
	Name        string
	Description string
	Params      models.IndexingParams

	// ResolveFolders fetches selected, never-opened folders first so the
	// knowledge base receives their files instead of the folder ids
	ResolveFolders bool
}

// ReconcileResult is the outcome of comparing the selection with the
// knowledge base listing.
type ReconcileResult struct {
	Changed      []string          // ids newly marked synchronized
	Resources    []models.Resource // knowledge base resources seen
	Synchronized int               // leaves present in the knowledge base
	Total        int               // leaves submitted
}

// Done reports whether every submitted leaf is present.
func (r ReconcileResult) Done() bool {
	return r.Total > 0 && r.Synchronized >= r.Total
}

// WaitOptions controls WaitForSync.
type WaitOptions struct {
	// Timeout bounds the wait; zero waits until ctx ends
	Timeout time.Duration
	// OnProgress is called after every poll
	OnProgress func(synchronized, total int)
}
