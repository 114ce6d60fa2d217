package memory

import "time"

// EntryType is the closed enumeration of memory kinds.
type EntryType string

const (
	TypeConversation EntryType = "conversation"
	TypeFact         EntryType = "fact"
	TypePreference   EntryType = "preference"
	TypeDecision     EntryType = "decision"
	TypeInsight      EntryType = "insight"
	TypeFeedback     EntryType = "feedback"
	TypeInstruction  EntryType = "instruction"
	TypeExplanation  EntryType = "explanation"
)

// MergeStrategy decides what happens when a near-duplicate of a new
// entry already exists. Exactly one strategy runs per duplicate pair,
// chosen by configuration, never auto-selected.
type MergeStrategy string

const (
	MergeSummarize     MergeStrategy = "summarize"
	MergeKeepRecent    MergeStrategy = "keep_recent"
	MergeKeepImportant MergeStrategy = "keep_important"
	MergeMetadata      MergeStrategy = "merge_metadata"
)

/*
Entry represents a single unit of durable long-term memory: an embedded
query/response pair with importance and type metadata. Importance stays
in [0,1] and is mutated only through feedback updates and decay, never
overwritten wholesale except by summarization.
*/
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Importance float64   `json:"importance"`
	Type       EntryType `json:"type"`
	Tags       []string  `json:"tags,omitempty"`

	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
	CreatedAt    time.Time `json:"createdAt"`

	// Audit trail for importance feedback, newest last.
	FeedbackLog []string `json:"feedbackLog,omitempty"`
}

// Content returns the text that gets embedded and matched against.
func (e Entry) Content() string {
	return e.Query + "\n" + e.Response
}

/*
Match is a read-only projection of an Entry plus its similarity to a
specific query. It exists only for the duration of a retrieval call.
*/
type Match struct {
	Entry    Entry   `json:"entry"`
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
}

// Filters narrow a retrieval to a metadata subset. Zero values mean
// "no constraint".
type Filters struct {
	Types         []EntryType   `json:"types,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	MinImportance float64       `json:"minImportance,omitempty"`
	MaxImportance float64       `json:"maxImportance,omitempty"`
	MinScore      float64       `json:"minScore,omitempty"`
	After         time.Time     `json:"after,omitempty"`
	Before        time.Time     `json:"before,omitempty"`
	MaxAge        time.Duration `json:"maxAge,omitempty"`
}

// DedupPolicy controls near-duplicate detection during Store.
type DedupPolicy struct {
	Enabled   bool          `json:"enabled"`
	Threshold float64       `json:"threshold"`
	Strategy  MergeStrategy `json:"strategy"`
}

// StoreRequest is the input to Manager.Store.
type StoreRequest struct {
	UserID     string   `json:"userId"`
	WorkflowID string   `json:"workflowId,omitempty"`
	Query      string   `json:"query"`
	Response   string   `json:"response"`
	Tags       []string `json:"tags,omitempty"`

	// Importance overrides the automatic score when non-nil.
	Importance *float64 `json:"importance,omitempty"`

	Dedup DedupPolicy `json:"dedup"`
}

// RetrieveRequest is the input to Manager.Retrieve.
type RetrieveRequest struct {
	UserID string  `json:"userId"`
	Query  string  `json:"query"`
	TopK   int     `json:"topK"`
	Filter Filters `json:"filter"`

	// HybridSearch blends keyword overlap into the vector score.
	HybridSearch  bool    `json:"hybridSearch"`
	KeywordWeight float64 `json:"keywordWeight,omitempty"`
}

// CleanupRequest is the input to Manager.Cleanup.
type CleanupRequest struct {
	UserID      string        `json:"userId"`
	MaxMemories int           `json:"maxMemories"`
	MaxAge      time.Duration `json:"maxAge,omitempty"`
	Decay       bool          `json:"decay"`
}
