/*
Copyright 2017 Google Inc. All Rights Reserved.
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

package copyengine

import (
	"context"
	"io"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// rateLimitedReader wraps an io.Reader with a token-bucket limiter, in the
// teacher's agent/ratelimitedreader.go idiom: each Read reserves n tokens
// for the bytes it's about to return and sleeps for the reservation's
// delay before handing them back. A nil limiter (unlimited bandwidth)
// short-circuits to a plain passthrough.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func newRateLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (rr *rateLimitedReader) Read(buf []byte) (int, error) {
	n, err := rr.r.Read(buf)
	if n > 0 {
		if werr := rr.limiter.WaitN(rr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// semAcquiringReader bounds the number of concurrently-open source file
// descriptors being actively read across every in-flight copy, independent
// of max_concurrent_copies, in the teacher's
// agent/tasks/copy/semacquiringreader.go idiom.
type semAcquiringReader struct {
	r   io.Reader
	sem *semaphore.Weighted
	ctx context.Context
}

func newSemAcquiringReader(ctx context.Context, r io.Reader, sem *semaphore.Weighted) io.Reader {
	if sem == nil {
		return r
	}
	return &semAcquiringReader{r: r, sem: sem, ctx: ctx}
}

func (sr *semAcquiringReader) Read(buf []byte) (int, error) {
	if err := sr.sem.Acquire(sr.ctx, 1); err != nil {
		return 0, err
	}
	defer sr.sem.Release(1)
	return sr.r.Read(buf)
}
