package health

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	name    string
	healthy atomic.Bool
}

func (f *fakeChecker) Name() string                         { return f.name }
func (f *fakeChecker) IsHealthy() bool                      { return f.healthy.Load() }
func (f *fakeChecker) Start(context.Context, time.Duration) {}

func TestServiceHealthChecker_Evaluate(t *testing.T) {
	var buf bytes.Buffer
	store := &fakeChecker{name: "store:sqlite3"}
	other := &fakeChecker{name: "other"}
	other.healthy.Store(true)

	svc := NewServiceHealthChecker(zerolog.New(&buf), store, other)
	assert.False(t, svc.IsHealthy())

	assert.Equal(t, []string{"store:sqlite3"}, svc.Evaluate())
	assert.False(t, svc.IsHealthy())
	assert.Empty(t, buf.String(), "no transition from the initial down state")

	store.healthy.Store(true)
	assert.Empty(t, svc.Evaluate())
	assert.True(t, svc.IsHealthy())
	assert.Contains(t, buf.String(), "service health: UP")

	buf.Reset()
	store.healthy.Store(false)
	svc.Evaluate()
	assert.True(t, strings.Contains(buf.String(), `"down":["store:sqlite3"]`), buf.String())
}

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(true)
	b.healthy.Store(true)

	svc := NewServiceHealthChecker(zerolog.Nop(), a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	assert.Eventually(t, svc.IsHealthy, 500*time.Millisecond, 10*time.Millisecond)

	b.healthy.Store(false)
	assert.Eventually(t, func() bool { return !svc.IsHealthy() }, 500*time.Millisecond, 10*time.Millisecond)

	b.healthy.Store(true)
	assert.Eventually(t, svc.IsHealthy, 500*time.Millisecond, 10*time.Millisecond)
}
