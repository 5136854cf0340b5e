// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// noiseBurst bounds how many noise stores may be issued back to back.
const noiseBurst = 4

// Noise floods an engine with a rate limited stream of minimum priority
// stores from its own context, giving latency scenarios a realistic
// background load to cut through.
type Noise struct {
	dev     device.Device
	eng     engine.Descriptor
	cctx    device.ContextID
	scratch device.Handle
	limiter *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// StartNoise creates the noise context and starts submitting. Stop releases
// everything it created.
func StartNoise(ctx context.Context, dev device.Device, eng engine.Descriptor, persec float64) (*Noise, error) {
	if persec <= 0 {
		return nil, fmt.Errorf("cannot start noise: rate %v must be positive", persec)
	}
	cctx, err := dev.CreateContext(device.ContextConfig{})
	if err != nil {
		return nil, fmt.Errorf("noise context: %w", err)
	}
	if err := dev.SetContextPriority(cctx, device.MinPriority); err != nil {
		dev.DestroyContext(cctx) //nolint:errcheck
		return nil, fmt.Errorf("noise priority: %w", err)
	}
	scratch, err := dev.CreateObject(scratchSize)
	if err != nil {
		dev.DestroyContext(cctx) //nolint:errcheck
		return nil, fmt.Errorf("noise scratch: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	n := &Noise{
		dev:     dev,
		eng:     eng,
		cctx:    cctx,
		scratch: scratch,
		limiter: rate.NewLimiter(rate.Limit(persec), noiseBurst),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go n.run(runCtx)
	return n, nil
}

func (n *Noise) run(ctx context.Context) {
	defer close(n.done)
	var count uint32
	for {
		if err := n.limiter.Wait(ctx); err != nil {
			return
		}
		count++
		_, err := submit.StoreDword(ctx, n.dev, n.cctx, n.eng, n.scratch, 0, count, submit.StoreOpts{})
		switch {
		case err == nil:
		case errors.Is(err, device.ErrWedged), errors.Is(err, device.ErrInterrupted),
			errors.Is(err, device.ErrNoSuchContext):
			return
		default:
			log.Warnf("noise store on %s: %v", n.eng, err) //nolint:errcheck
			return
		}
	}
}

// Stop halts the stream, waits for queued noise to drain and releases the
// noise context and scratch.
func (n *Noise) Stop(ctx context.Context) error {
	n.cancel()
	<-n.done
	err := n.dev.WaitObject(ctx, n.scratch, -1)
	if cerr := n.dev.CloseObject(n.scratch); err == nil {
		err = cerr
	}
	if derr := n.dev.DestroyContext(n.cctx); err == nil {
		err = derr
	}
	return err
}
