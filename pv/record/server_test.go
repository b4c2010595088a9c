package record

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects monitor deliveries.
type recorder struct {
	mu      sync.Mutex
	values  []Value
	indices []int
}

func (r *recorder) add(i int, v Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, i)
	r.values = append(r.values, v)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func TestServer_Create_DuplicateName(t *testing.T) {
	// GIVEN a server hosting X
	s := NewServer()
	_, err := s.Create(Spec{Name: "X", Kind: KindAI, Initial: Scalar(1)})
	require.NoError(t, err)

	// WHEN X is created again
	_, err = s.Create(Spec{Name: "X", Kind: KindAO, Initial: Scalar(2)})

	// THEN a DuplicateNameError names X and the original record is untouched
	var dup *DuplicateNameError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "X", dup.Name)
	r, ok := s.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, KindAI, r.Kind())
	assert.Equal(t, 1, s.Len())
}

func TestServer_Monitor_DeliversCurrentValueOnConnect(t *testing.T) {
	s := NewServer()
	_, err := s.Create(Spec{Name: "A", Kind: KindAI, Initial: Scalar(3)})
	require.NoError(t, err)

	var got []Value
	_, err = s.Monitor("A", func(v Value) { got = append(got, v) })
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Float())
}

func TestServer_Monitor_UnknownName(t *testing.T) {
	s := NewServer()
	_, err := s.Monitor("missing", func(Value) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_Set_PostsOnlyForOnChange(t *testing.T) {
	// GIVEN one on-change and one passive record, both monitored
	s := NewServer()
	onChange, err := s.Create(Spec{Name: "RB", Kind: KindAI, Scan: OnChange})
	require.NoError(t, err)
	passive, err := s.Create(Spec{Name: "SP", Kind: KindAO, Scan: Passive})
	require.NoError(t, err)
	var rb, sp recorder
	_, err = s.Monitor("RB", func(v Value) { rb.add(NoIndex, v) })
	require.NoError(t, err)
	_, err = s.Monitor("SP", func(v Value) { sp.add(NoIndex, v) })
	require.NoError(t, err)

	// WHEN both are set
	onChange.Set(Scalar(1))
	passive.Set(Scalar(1))

	// THEN only the on-change record posted beyond the connect delivery
	assert.Equal(t, 2, rb.count())
	assert.Equal(t, 1, sp.count())
	assert.Equal(t, 1.0, passive.Get().Float())
}

func TestServer_MonitorGroup_CarriesIndex(t *testing.T) {
	s := NewServer()
	a, _ := s.Create(Spec{Name: "A", Kind: KindAI})
	b, _ := s.Create(Spec{Name: "B", Kind: KindAI})
	var rec recorder
	subs, err := s.MonitorGroup([]string{"A", "B"}, rec.add)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	b.Set(Scalar(7))
	a.Set(Scalar(5))

	assert.Equal(t, []int{0, 1, 1, 0}, rec.indices)
	assert.Equal(t, 1, subs[1].Index())
}

func TestServer_MonitorGroup_FailureClosesPartialSubscriptions(t *testing.T) {
	s := NewServer()
	_, _ = s.Create(Spec{Name: "A", Kind: KindAI})
	_, err := s.MonitorGroup([]string{"A", "missing"}, func(int, Value) {})
	require.Error(t, err)
	assert.Equal(t, 0, s.Monitors("A"))
}

func TestSubscription_Close_StopsDelivery(t *testing.T) {
	s := NewServer()
	r, _ := s.Create(Spec{Name: "A", Kind: KindAI})
	var rec recorder
	sub, err := s.Monitor("A", func(v Value) { rec.add(NoIndex, v) })
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	r.Set(Scalar(1))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, s.Monitors("A"))
}

func TestServer_Put_RunsHandlerAndClamps(t *testing.T) {
	// GIVEN an output record with drive limits and an on-update handler
	s := NewServer()
	r, err := s.Create(Spec{
		Name:    "SP",
		Kind:    KindAO,
		Scan:    Passive,
		Bounds:  &Bounds{DriveLow: -5, DriveHigh: 5},
		Initial: Scalar(0),
	})
	require.NoError(t, err)
	var handled []float64
	r.OnUpdate(func(v Value) { handled = append(handled, v.Float()) })

	// WHEN a client writes beyond the drive range, then writes the same value again
	require.NoError(t, s.Put("SP", Scalar(9)))
	require.NoError(t, s.Put("SP", Scalar(9)))

	// THEN the value is clamped and the unchanged second write does not re-run the handler
	assert.Equal(t, 5.0, r.Get().Float())
	assert.Equal(t, []float64{5}, handled)
}

func TestServer_Put_AlwaysUpdate(t *testing.T) {
	s := NewServer()
	r, _ := s.Create(Spec{Name: "SP", Kind: KindAO, Scan: Passive, AlwaysUpdate: true})
	calls := 0
	r.OnUpdate(func(Value) { calls++ })

	require.NoError(t, s.Put("SP", Scalar(1)))
	require.NoError(t, s.Put("SP", Scalar(1)))

	assert.Equal(t, 2, calls)
}

func TestServer_Process_RunsHandlerWithCurrentValue(t *testing.T) {
	s := NewServer()
	r, _ := s.Create(Spec{Name: "SP", Kind: KindAO, Scan: Passive, Initial: Scalar(10)})
	var got Value
	r.OnUpdate(func(v Value) { got = v })
	var rec recorder
	_, _ = s.Monitor("SP", func(v Value) { rec.add(NoIndex, v) })

	require.NoError(t, s.Process("SP"))

	assert.Equal(t, 10.0, got.Float())
	assert.Equal(t, 2, rec.count(), "process posts to monitors")
	assert.ErrorIs(t, s.Process("nope"), ErrNotFound)
}

func TestServer_Run_PostsPeriodicRecords(t *testing.T) {
	// GIVEN a periodic record with a short interval
	s := NewServer()
	_, err := s.Create(Spec{Name: "EMIT", Kind: KindAI, Scan: Periodic(5 * time.Millisecond)})
	require.NoError(t, err)
	var posts atomic.Int32
	_, err = s.Monitor("EMIT", func(Value) { posts.Add(1) })
	require.NoError(t, err)

	// WHEN the scanner runs
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// THEN the record is re-posted without being set
	assert.Eventually(t, func() bool { return posts.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRecord_Set_ConcurrentWritersPostInStoreOrder(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		// GIVEN an on-change record whose monitor keeps the last delivered value
		s := NewServer()
		r, err := s.Create(Spec{Name: "A", Kind: KindAI, Initial: Scalar(0)})
		require.NoError(t, err)
		var mu sync.Mutex
		var last Value
		_, err = s.Monitor("A", func(v Value) {
			mu.Lock()
			last = v
			mu.Unlock()
		})
		require.NoError(t, err)

		// WHEN two writers set it concurrently
		var wg sync.WaitGroup
		for w := 1; w <= 2; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					r.Set(Scalar(float64(w*1000 + i)))
				}
			}()
		}
		wg.Wait()

		// THEN the monitor was last told what the record holds
		mu.Lock()
		got := last
		mu.Unlock()
		require.True(t, r.Get().Equal(got), "trial %d: record %v, monitor %v", trial, r.Get(), got)
	}
}
