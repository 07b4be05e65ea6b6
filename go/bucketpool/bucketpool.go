/*
Copyright 2023 The Monetgo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bucketpool implements a sync.Pool of []byte partitioned into
// power-of-two size buckets. The wire framer uses it for block payloads so
// that reading a large message does not allocate a fresh buffer per block.
package bucketpool

import "sync"

type sizedPool struct {
	size int
	pool sync.Pool
}

func newSizedPool(size int) *sizedPool {
	return &sizedPool{
		size: size,
		pool: sync.Pool{
			New: func() any { return makeSlicePointer(size) },
		},
	}
}

// Pool is a collection of sync.Pools, one per buffer size. Sizes double
// from minSize up to maxSize, with maxSize itself always present.
type Pool struct {
	minSize int
	maxSize int
	pools   []*sizedPool
}

// New creates a Pool with buckets between minSize and maxSize.
func New(minSize, maxSize int) *Pool {
	if maxSize < minSize {
		panic("maxSize can't be less than minSize")
	}
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	var pools []*sizedPool
	curSize := minSize
	for curSize < maxSize {
		pools = append(pools, newSizedPool(curSize))
		curSize *= 2
	}
	pools = append(pools, newSizedPool(maxSize))
	return &Pool{
		minSize: minSize,
		maxSize: maxSize,
		pools:   pools,
	}
}

func (p *Pool) findPool(size int) *sizedPool {
	if size > p.maxSize {
		return nil
	}
	for _, sp := range p.pools {
		if size <= sp.size {
			return sp
		}
	}
	// size <= maxSize, so the last pool always matches.
	return p.pools[len(p.pools)-1]
}

// Get returns a pointer to a []byte with the requested length. The buffer
// comes from the smallest bucket that fits, or is freshly allocated when the
// request exceeds maxSize.
func (p *Pool) Get(size int) *[]byte {
	sp := p.findPool(size)
	if sp == nil {
		return makeSlicePointer(size)
	}
	buf := sp.pool.Get().(*[]byte)
	*buf = (*buf)[:size]
	return buf
}

// Put returns a buffer obtained from Get back to its bucket. Buffers larger
// than maxSize are dropped for the garbage collector.
func (p *Pool) Put(b *[]byte) {
	sp := p.findPool(cap(*b))
	if sp == nil || sp.size != cap(*b) {
		return
	}
	*b = (*b)[:cap(*b)]
	sp.pool.Put(b)
}

func makeSlicePointer(size int) *[]byte {
	data := make([]byte, size)
	return &data
}
