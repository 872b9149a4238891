package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
)

type namedProvider string

func (p namedProvider) Dispatch(context.Context, *email.Email, *dispatch.CommunicationContext) ([]*dispatch.Result, error) {
	return nil, nil
}

func (p namedProvider) Name() string { return string(p) }

func factoryFor(name string) Factory {
	return func(context.Context) (Provider, error) { return namedProvider(name), nil }
}

func TestID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "smtp", ID("smtp", ""))
	assert.Equal(t, "smtp.billing", ID("smtp", "billing"))
}

func TestRegistry_AddResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Add("smtp", ChannelEmail, factoryFor("smtp")))
	require.NoError(t, r.Add("stdout", ChannelEmail, factoryFor("stdout")))
	require.NoError(t, r.Add("sms", "Sms", factoryFor("sms")))

	p, err := r.Resolve(context.Background(), "smtp")
	require.NoError(t, err)
	assert.Equal(t, "smtp", p.Name())

	channel, ok := r.Channel("sms")
	assert.True(t, ok)
	assert.Equal(t, "Sms", channel)

	assert.Equal(t, []string{"smtp", "stdout"}, r.IDs(ChannelEmail))
	assert.Equal(t, []string{"sms", "smtp", "stdout"}, r.IDs(""))
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Add("smtp", ChannelEmail, factoryFor("smtp")))

	err := r.Add("smtp", ChannelEmail, factoryFor("again"))
	assert.ErrorIs(t, err, ErrDuplicateProvider)

	assert.Error(t, r.Add("", ChannelEmail, factoryFor("x")))
	assert.Error(t, r.Add("nil", ChannelEmail, nil))

	_, err = r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	boom := errors.New("boom")
	require.NoError(t, r.Add("broken", ChannelEmail, func(context.Context) (Provider, error) { return nil, boom }))
	_, err = r.Resolve(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)
}
