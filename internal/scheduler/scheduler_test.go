package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/afritokeni/afritokeni/internal/config"
	"github.com/afritokeni/afritokeni/internal/exchange"
	"github.com/afritokeni/afritokeni/internal/logging"
)

type fakeCodes struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCodes) ExpirePending(context.Context) (int, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakeRates struct{ calls atomic.Int32 }

func (f *fakeRates) Refresh(context.Context) (exchange.Snapshot, error) {
	f.calls.Add(1)
	return exchange.DefaultSnapshot(), nil
}

type fakeStore struct{ calls atomic.Int32 }

func (f *fakeStore) Sweep() int {
	f.calls.Add(1)
	return 1
}

func TestJobs(t *testing.T) {
	codes, rates, store := &fakeCodes{}, &fakeRates{}, &fakeStore{}
	jobs := &Jobs{Codes: codes, Rates: rates, Sweepers: map[string]Sweeper{"sessions": store}, Logger: logging.Discard()}

	jobs.ExpireCodes()
	jobs.RefreshRates()
	jobs.Sweep()
	codes.err = errors.New("db down")
	jobs.ExpireCodes()

	assert.EqualValues(t, 2, codes.calls.Load())
	assert.EqualValues(t, 1, rates.calls.Load())
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestSchedulerRunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{}
	jobs := &Jobs{Sweepers: map[string]Sweeper{"sessions": store}, Logger: logging.Discard()}
	s := New(jobs, logging.Discard(), config.CronConfig{Sweep: "@every 1s", ExpireCodes: "@every 1s"})
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return store.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	defer goleak.VerifyNone(t)

	jobs := &Jobs{Rates: &fakeRates{}, Logger: logging.Discard()}
	s := New(jobs, logging.Discard(), config.CronConfig{RefreshRates: "every now and then"})
	assert.Error(t, s.Start())
}
