package transcript

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	require.True(t, changed)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		assert.Contains(t, out, marker)
	}
	assert.NotContains(t, out, "4242")

	out, changed = RedactPII("See you at noon.")
	assert.False(t, changed)
	assert.Equal(t, "See you at noon.", out)
}

func TestBackoff(t *testing.T) {
	base, ceiling := 100*time.Millisecond, time.Second
	assert.Equal(t, base, backoff(0, base, ceiling))
	assert.Equal(t, 400*time.Millisecond, backoff(2, base, ceiling))
	assert.Equal(t, ceiling, backoff(10, base, ceiling))
}

func TestInMemoryStoreSessionReplies(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, "  ")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SessionReplies(ctx, "s1", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, text := range []string{"first", "second", "mail me at a@b.io"} {
		require.NoError(t, s.SaveReply(ctx, Reply{SessionID: "s1", EntityID: "nova", Text: text}))
	}
	require.NoError(t, s.SaveReply(ctx, Reply{SessionID: "s2", EntityID: "nova", Text: "other"}))

	all, err := s.SessionReplies(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Text)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())
	assert.True(t, all[2].PIIRedacted)
	assert.Equal(t, "mail me at [REDACTED_EMAIL]", all[2].Text)

	last, err := s.SessionReplies(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "mail me at [REDACTED_EMAIL]"}, []string{last[0].Text, last[1].Text})
	assert.NoError(t, s.Ping(ctx))
}

func TestNewPostgresStoreRejectsBadURL(t *testing.T) {
	_, err := NewStore(context.Background(), "postgres://%zz")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse database url"), err.Error())
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	session := "test-" + newID()
	require.NoError(t, s.SaveReply(ctx, Reply{SessionID: session, EntityID: "nova", Text: "one", WordCount: 1, BubbleCount: 1}))
	require.NoError(t, s.SaveReply(ctx, Reply{SessionID: session, EntityID: "nova", Text: "two", CreatedAt: time.Now().UTC().Add(time.Second)}))

	got, err := s.SessionReplies(ctx, session, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "two", got[1].Text)
}
