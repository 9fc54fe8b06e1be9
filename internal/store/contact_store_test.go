package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/tests/testutil"
)

func TestSearchContactsRanking(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContactStore(t)

	seen := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordContacts(ctx, []model.Contact{
		{Email: "Ann@Example.org", Name: "Ann Lee", LastSeen: seen},
		{Email: "annette@example.org", Name: "Annette", LastSeen: seen},
		{Email: "lee@example.org", Name: "Joanne Ann", LastSeen: seen},
		{Email: "zoe@example.org", Name: "Zoe Hanna", LastSeen: seen},
		{Email: "", Name: "ignored"},
	}))
	// annette is seen more often than ann.
	require.NoError(t, s.RecordContacts(ctx, []model.Contact{
		{Email: "annette@example.org", LastSeen: seen.Add(time.Hour)},
	}))

	got, err := s.SearchContacts(ctx, "ann@example.org", 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "ann@example.org", got[0].Email)

	got, err = s.SearchContacts(ctx, "Ann", 10)
	require.NoError(t, err)
	emails := make([]string, len(got))
	for i, c := range got {
		emails[i] = c.Email
	}
	assert.Equal(t, []string{
		"annette@example.org", // prefix, frequency 2
		"ann@example.org",     // prefix, frequency 1
		"lee@example.org",     // name word prefix
		"zoe@example.org",     // substring
	}, emails)
	assert.Equal(t, "Annette", got[0].Name, "empty names do not overwrite")
	assert.Equal(t, 2, got[0].Frequency)
}

func TestSearchContactsEmptyQuery(t *testing.T) {
	s := testutil.NewTestContactStore(t)

	got, err := s.SearchContacts(context.Background(), "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchContactsEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestContactStore(t)
	require.NoError(t, s.RecordContacts(ctx, []model.Contact{
		{Email: "a_b@example.org"},
		{Email: "axb@example.org"},
	}))

	got, err := s.SearchContacts(ctx, "a_b", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_b@example.org", got[0].Email)
}
