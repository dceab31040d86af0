package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls   []string
	upErr   error
	steps   int
	forced  int
	version uint
	dirty   bool
	verErr  error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return migrate.ErrNoChange
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, f.verErr
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	m := &fakeMigrator{}
	require.NoError(t, run(m, []string{"up"}, log))
	require.NoError(t, run(m, []string{"down"}, log))
	require.NoError(t, run(m, []string{"steps", "-1"}, log))
	require.NoError(t, run(m, []string{"force", "3"}, log))
	assert.Equal(t, []string{"up", "down", "steps", "force"}, m.calls)
	assert.Equal(t, -1, m.steps)
	assert.Equal(t, 3, m.forced)
	assert.Contains(t, buf.String(), `"message":"Migrated up"`)
}

func TestRunVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(&fakeMigrator{version: 1, dirty: true}, []string{"version"}, zerolog.New(&buf)))
	assert.Contains(t, buf.String(), `"version":1`)
	assert.Contains(t, buf.String(), `"dirty":true`)

	buf.Reset()
	require.NoError(t, run(&fakeMigrator{verErr: migrate.ErrNilVersion}, []string{"version"}, zerolog.New(&buf)))
	assert.Contains(t, buf.String(), "No migration applied")
}

func TestRunErrors(t *testing.T) {
	log := zerolog.Nop()

	err := run(&fakeMigrator{upErr: errors.New("dirty database")}, []string{"up"}, log)
	assert.ErrorContains(t, err, "dirty database")
	assert.False(t, errors.Is(err, errUsage))

	assert.ErrorIs(t, run(&fakeMigrator{}, []string{"force"}, log), errUsage)
	assert.ErrorIs(t, run(&fakeMigrator{}, []string{"steps", "x"}, log), errUsage)
	assert.ErrorIs(t, run(&fakeMigrator{}, []string{"sideways"}, log), errUsage)
}
