package app

import (
	"context"
	"errors"
	"testing"

	"deploymate/pkg/core/config"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	userdto "deploymate/system/user/api/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notifyJob(t *testing.T, groups ...model.DistributionGroupRef) *queue.Job {
	return jobOf(t, queue.KindNotifications, model.NotifyPayload{
		ReleaseID:          "rel_1",
		AppName:            "Demo",
		Version:            "1.2.0",
		DistributionGroups: groups,
	})
}

func seedMembers(env *testEnv) {
	env.members.app["ag1"] = []string{"u1", "u2"}
	env.members.org["og1"] = []string{"u2", "u3", "u4"}
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		env.contacts[id] = userdto.UserContact{ID: id, Email: id + "@example.com", Name: id}
	}
}

var bothGroups = []model.DistributionGroupRef{
	{ID: "ag1", Type: model.GroupTypeApp},
	{ID: "og1", Type: model.GroupTypeOrg},
}

func TestHandleNotifications_OneMailPerMember(t *testing.T) {
	env := newTestEnv(t)
	seedMembers(env)

	require.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...)))
	assert.ElementsMatch(t, []string{"u1@example.com", "u2@example.com", "u3@example.com", "u4@example.com"}, env.mailer.recipients())
}

func TestHandleNotifications_FailuresAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	seedMembers(env)
	env.mailer.fail["u2@example.com"] = true
	env.mailer.panic["u3@example.com"] = true

	require.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...)))
	assert.ElementsMatch(t, []string{"u1@example.com", "u4@example.com"}, env.mailer.recipients())
}

func TestHandleNotifications_MissingContactSkipped(t *testing.T) {
	env := newTestEnv(t)
	seedMembers(env)
	delete(env.contacts, "u1")

	require.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...)))
	assert.ElementsMatch(t, []string{"u2@example.com", "u3@example.com", "u4@example.com"}, env.mailer.recipients())
}

func TestHandleNotifications_ResolverErrorRetries(t *testing.T) {
	env := newTestEnv(t)
	env.members.err = errors.New("db down")

	err := env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Empty(t, env.mailer.recipients())
}

func TestHandleNotifications_NoGroups(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t)))
	assert.Zero(t, env.members.txCalls)
	assert.Empty(t, env.mailer.recipients())
}

func TestHandleNotifications_MailerNotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Mailer = nil })
	seedMembers(env)

	require.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...)))
	assert.Zero(t, env.members.txCalls)
}

func TestHandleNotifications_FailureThreshold(t *testing.T) {
	withThreshold := func(d *Deps) {
		d.Notify = config.NotifyConfig{Concurrency: 2, FailureThreshold: 0.5, ThresholdMinRecipients: 2}
	}

	t.Run("exceeded", func(t *testing.T) {
		env := newTestEnv(t, withThreshold)
		seedMembers(env)
		for _, id := range []string{"u1", "u2", "u3"} {
			env.mailer.fail[id+"@example.com"] = true
		}

		err := env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...))
		require.Error(t, err)
		assert.True(t, queue.IsPermanent(err))
		assert.Equal(t, []string{"u4@example.com"}, env.mailer.recipients())
	})

	t.Run("within", func(t *testing.T) {
		env := newTestEnv(t, withThreshold)
		seedMembers(env)
		env.mailer.fail["u1@example.com"] = true

		assert.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, bothGroups...)))
	})

	t.Run("below minimum recipients", func(t *testing.T) {
		env := newTestEnv(t, withThreshold)
		env.members.app["ag1"] = []string{"u1"}
		env.contacts["u1"] = userdto.UserContact{ID: "u1", Email: "u1@example.com"}
		env.mailer.fail["u1@example.com"] = true

		assert.NoError(t, env.app.HandleNotifications(context.Background(), notifyJob(t, model.DistributionGroupRef{ID: "ag1", Type: model.GroupTypeApp})))
	})
}
