// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/collegemedia/collegemedia/internal/auth"
)

// Instrument wraps next so every delivery increments counter with labels
// {notifier: name, result: "ok"|"error"}.
func Instrument(next auth.ResetNotifier, name string, counter *prometheus.CounterVec) auth.ResetNotifier {
	return &instrumented{next: next, name: name, counter: counter}
}

type instrumented struct {
	next    auth.ResetNotifier
	name    string
	counter *prometheus.CounterVec
}

func (n *instrumented) NotifyReset(ctx context.Context, notice auth.ResetNotice) error {
	err := n.next.NotifyReset(ctx, notice)
	result := "ok"
	if err != nil {
		result = "error"
	}
	n.counter.WithLabelValues(n.name, result).Inc()
	return err
}
