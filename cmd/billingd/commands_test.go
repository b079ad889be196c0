package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

func TestParseTenantID(t *testing.T) {
	t.Parallel()

	id, err := parseTenantID("5f0c6c3e-8a57-4c2e-9d8e-1f2a3b4c5d6e")
	require.NoError(t, err)
	assert.Equal(t, "5f0c6c3e-8a57-4c2e-9d8e-1f2a3b4c5d6e", id.String())

	_, err = parseTenantID("42")
	assert.ErrorIs(t, err, subscription.ErrValidation)
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	assert.Error(t, startTrialCmd.Args(startTrialCmd, nil))
	assert.NoError(t, startTrialCmd.Args(startTrialCmd, []string{"id"}))
	assert.Error(t, convertTrialCmd.Args(convertTrialCmd, []string{"id"}))
	assert.NoError(t, convertTrialCmd.Args(convertTrialCmd, []string{"id", "price_starter"}))
	assert.Error(t, sweepCmd.Args(sweepCmd, []string{"extra"}))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "billingd dev (unknown)\n", out.String())
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, printJSON(&out, subscription.SweepReport{Found: 2, Expired: 2, EmailsSent: 1}))
	assert.JSONEq(t, `{"found":2,"expired":2,"emailsSent":1,"errors":0,"elapsed":0}`, out.String())
}

func TestSubcommandsRegistered(t *testing.T) {
	t.Parallel()

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "sweep", "start-trial", "convert-trial", "entitlement", "version"} {
		assert.True(t, names[want], want)
	}
}
