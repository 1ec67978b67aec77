//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestConsentRepository_UpsertDoc_ForkPreservesReferencedVersion(t *testing.T) {
	pool := testPool(t)
	truncate(t, pool, "consent_events", "consent_docs")
	repo := NewConsentRepository(pool)
	ctx := context.Background()

	first, err := repo.UpsertDoc(ctx, domain.ConsentDocPolicy, "policy v1")
	assert.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	// No events yet: an edit rewrites the latest version in place.
	edited, err := repo.UpsertDoc(ctx, domain.ConsentDocPolicy, "policy v1, amended")
	assert.NoError(t, err)
	assert.Equal(t, first.ID, edited.ID)
	assert.Equal(t, 1, edited.Version)
	assert.Equal(t, "policy v1, amended", edited.Content)

	err = repo.AppendEvent(ctx, &domain.ConsentEvent{
		DocID:     edited.ID,
		Action:    domain.ConsentAgree,
		ClientIP:  "10.0.0.1",
		UserAgent: "test",
	})
	assert.NoError(t, err)

	// Referenced content is immutable: the next edit forks version 2
	// and leaves the accepted row untouched.
	forked, err := repo.UpsertDoc(ctx, domain.ConsentDocPolicy, "policy v2")
	assert.NoError(t, err)
	assert.NotEqual(t, edited.ID, forked.ID)
	assert.Equal(t, 2, forked.Version)

	kept, err := repo.GetDoc(ctx, edited.ID)
	assert.NoError(t, err)
	assert.Equal(t, "policy v1, amended", kept.Content)
	assert.Equal(t, domain.ContentHash("policy v1, amended"), kept.Hash)

	current, err := repo.Current(ctx, domain.ConsentDocPolicy)
	assert.NoError(t, err)
	assert.Equal(t, forked.ID, current.ID)

	// Same content again is a no-op, not version 3.
	again, err := repo.UpsertDoc(ctx, domain.ConsentDocPolicy, "policy v2")
	assert.NoError(t, err)
	assert.Equal(t, forked.ID, again.ID)
	assert.Equal(t, 2, again.Version)
}
