package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectPool_RunsAllJobs(t *testing.T) {
	p := NewDirectPool()
	var count atomic.Int64

	for i := 0; i < 50; i++ {
		p.Submit(func() { count.Add(1) })
	}
	p.Close()

	require.EqualValues(t, 50, count.Load())
}

func TestBoundedPool_RunsAllJobsWithFixedWorkers(t *testing.T) {
	p := NewBoundedPool(4, 8)
	var count atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	p.Close()

	require.EqualValues(t, 100, count.Load())
}

func TestExternalPool_DelegatesToDispatcher(t *testing.T) {
	var got []func()
	p := NewExternalPool(func(job func()) {
		got = append(got, job)
	})

	ran := false
	p.Submit(func() { ran = true })
	require.Len(t, got, 1)

	got[0]()
	require.True(t, ran)

	p.Close()
}
