package passlink_test

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
)

func TestConsoleEmailSender_RetainsNothingByDefault(t *testing.T) {
	sender := &pl.ConsoleEmailSender{Out: io.Discard}
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, sender.SendMagicLinkEmail(ctx, "a@b.com", fmt.Sprintf("http://x/auth/magic-link?token=t%d", i)))
	}
	assert.Equal(t, 1000, sender.Count())
	assert.Nil(t, sender.LastEmail("a@b.com"))
}

func TestConsoleEmailSender_KeepBoundsRetention(t *testing.T) {
	sender := &pl.ConsoleEmailSender{Out: io.Discard, Keep: 2}
	ctx := context.Background()

	require.NoError(t, sender.SendVerificationEmail(ctx, "first@b.com", "http://x/verify?token=1"))
	require.NoError(t, sender.SendMagicLinkEmail(ctx, "second@b.com", "http://x/magic?token=2"))
	require.NoError(t, sender.SendMagicLinkEmail(ctx, "third@b.com", "http://x/magic?token=3"))
	require.NoError(t, sender.SendMagicLinkEmail(ctx, "third@b.com", "http://x/magic?token=4"))

	assert.Equal(t, 4, sender.Count())
	assert.Nil(t, sender.LastEmail("first@b.com"))
	assert.Nil(t, sender.LastEmail("second@b.com"))

	last := sender.LastEmail("third@b.com")
	require.NotNil(t, last)
	assert.Contains(t, last.HTML, "token=4")
	assert.Equal(t, "Your sign-in link", last.Subject)
}
