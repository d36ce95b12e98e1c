package secretconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

func newTestStore(t *testing.T, wrapKey []byte) (*Store, *store.Store) {
	t.Helper()
	reg := recipe.NewRegistry()
	require.NoError(t, RegisterRecipe(reg))
	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, reg, wrapKey), s
}

func TestGetReturnsEmptyDefaultWhenNothingSaved(t *testing.T) {
	st, _ := newTestStore(t, []byte("wrap-key-of-any-length"))
	view, err := st.Get(context.Background(), "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", view.UserEmail)
	assert.False(t, view.HasSecret)
	assert.Empty(t, view.LLMEndpoint)
}

func TestSetEndpointPreservesExistingSecret(t *testing.T) {
	st, _ := newTestStore(t, []byte("wrap-key-of-any-length"))
	ctx := context.Background()

	_, err := st.Seal(ctx, "u@example.com", "super-secret-token")
	require.NoError(t, err)

	_, err = st.SetEndpoint(ctx, "u@example.com", "https://llm.example.com")
	require.NoError(t, err)

	view, err := st.Get(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://llm.example.com", view.LLMEndpoint)
	assert.True(t, view.HasSecret, "SetEndpoint must not clobber a previously sealed secret")
}

func TestSealUnsealRoundTrip(t *testing.T) {
	st, _ := newTestStore(t, []byte("a-wrap-key"))
	ctx := context.Background()

	_, err := st.Seal(ctx, "u@example.com", "sk-abc123")
	require.NoError(t, err)

	view, err := st.Get(ctx, "u@example.com")
	require.NoError(t, err)
	assert.True(t, view.HasSecret)

	plaintext, err := st.Unseal(ctx, "u@example.com", "apiToken")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", plaintext)
}

func TestSealWithoutWrapKeyFails(t *testing.T) {
	st, _ := newTestStore(t, nil)
	_, err := st.Seal(context.Background(), "u@example.com", "sk-abc123")
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	assert.Equal(t, errs.KindSecretUnavailable, e.Kind)
}

func TestUnsealWithoutWrapKeyFails(t *testing.T) {
	st, _ := newTestStore(t, []byte("a-wrap-key"))
	ctx := context.Background()
	_, err := st.Seal(ctx, "u@example.com", "sk-abc123")
	require.NoError(t, err)

	lockedOut := &Store{s: st.s, reg: st.reg, wrapKey: nil}
	_, err = lockedOut.Unseal(ctx, "u@example.com", "apiToken")
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	assert.Equal(t, errs.KindSecretUnavailable, e.Kind)
}

func TestUnsealUnknownFieldFails(t *testing.T) {
	st, _ := newTestStore(t, []byte("a-wrap-key"))
	_, err := st.Unseal(context.Background(), "u@example.com", "somethingElse")
	require.Error(t, err)
}
