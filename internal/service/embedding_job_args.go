package service

import (
	"context"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	profileEmbeddingKind = "profile_embedding"
	// EmbeddingsQueueName is the River queue used for profile embedding jobs.
	EmbeddingsQueueName = "embeddings"
)

// ProfileEmbeddingInserter inserts embedding jobs in batches (e.g. River client).
type ProfileEmbeddingInserter interface {
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// ProfileEmbeddingArgs is the job payload for generating and storing the embedding of one profile.
// Uniqueness is by ProfileID so repeated backfill runs do not create duplicate jobs.
type ProfileEmbeddingArgs struct {
	ProfileID int64 `json:"profile_id" river:"unique"`
}

// Kind returns the River job kind.
func (ProfileEmbeddingArgs) Kind() string { return profileEmbeddingKind }

var _ river.JobArgs = ProfileEmbeddingArgs{}
