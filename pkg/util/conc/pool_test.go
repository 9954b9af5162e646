// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"sync"
	"testing"
	"time"

	ants "github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/linechat/pkg/util/merr"
)

func TestPool(t *testing.T) {
	pool, err := NewPool(4, WithPreAlloc(true))
	require.NoError(t, err)
	defer pool.Release()
	assert.Equal(t, 4, pool.Cap())

	var (
		wg    sync.WaitGroup
		count atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			count.Inc()
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 16, count.Load())
}

func TestPoolPreHandler(t *testing.T) {
	var pre atomic.Int32
	pool, err := NewPool(1, WithPreHandler(func() { pre.Inc() }))
	require.NoError(t, err)
	defer pool.Release()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))
	<-done
	assert.EqualValues(t, 1, pre.Load())
}

func TestPoolNonBlockingOverload(t *testing.T) {
	pool, err := NewPool(1, WithNonBlocking(true))
	require.NoError(t, err)
	defer pool.Release()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, merr.ErrServiceUnavailable)
	assert.Equal(t, 1, pool.Running())
	assert.Equal(t, 0, pool.Free())
	close(block)
}

func TestPoolConcealPanic(t *testing.T) {
	pool, err := NewPool(1, WithConcealPanic(true))
	require.NoError(t, err)
	defer pool.Release()

	require.NoError(t, pool.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))
	<-done
}

func TestPoolClosed(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	pool.Release()

	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, merr.ErrServiceClosed)
}

func TestPoolPanicHandler(t *testing.T) {
	got := make(chan any, 1)
	pool, err := NewPool(1, WithPanicHandler(func(v any) { got <- v }))
	require.NoError(t, err)
	defer pool.Release()

	require.NoError(t, pool.Submit(func() { panic("boom") }))
	select {
	case v := <-got:
		assert.Equal(t, "boom", v)
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler not called")
	}
}

func TestPoolAntsOptions(t *testing.T) {
	opt := defaultPoolOption()
	for _, o := range []PoolOption{
		WithPreAlloc(true),
		WithNonBlocking(true),
		WithDisablePurge(true),
		WithExpiryDuration(50 * time.Millisecond),
	} {
		o(opt)
	}

	var opts ants.Options
	for _, o := range opt.antsOptions() {
		o(&opts)
	}
	assert.True(t, opts.PreAlloc)
	assert.True(t, opts.Nonblocking)
	assert.True(t, opts.DisablePurge)
	assert.Equal(t, 50*time.Millisecond, opts.ExpiryDuration)
	assert.NotNil(t, opts.PanicHandler)
	assert.Nil(t, opts.Logger)

	// 未设置 expiry 时沿用 ants 的默认值。
	opts = ants.Options{}
	for _, o := range defaultPoolOption().antsOptions() {
		o(&opts)
	}
	assert.False(t, opts.DisablePurge)
	assert.Zero(t, opts.ExpiryDuration)
}

func TestPoolExpiryDuration(t *testing.T) {
	pool, err := NewPool(2, WithExpiryDuration(10*time.Millisecond))
	require.NoError(t, err)
	defer pool.Release()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))
	<-done
	require.Eventually(t, func() bool { return pool.Running() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, pool.Free())
}
