// Package setup runs environment checks and reports pass/warn/fail per item.
package setup

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of one check.
type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

// Check is a single check result.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

// Report aggregates check results in probe order.
type Report struct {
	Checks []Check `json:"checks"`
}

// Count returns how many checks ended with s.
func (r Report) Count(s Status) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}

// OK reports whether no check failed. Warnings are allowed.
func (r Report) OK() bool {
	return r.Count(Fail) == 0
}

// Err joins every failed check into one error, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, c := range r.Checks {
		if c.Status == Fail {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Detail))
		}
	}
	return errors.Join(errs...)
}

// Probe performs one check. Probes report problems in the returned Check
// rather than as errors.
type Probe func(ctx context.Context) Check

// Checker runs probes concurrently.
type Checker struct {
	probes []Probe
	limit  int
}

// New creates a checker over probes.
func New(probes ...Probe) *Checker {
	return &Checker{probes: probes, limit: 4}
}

// Run executes every probe and returns their results in order.
func (c *Checker) Run(ctx context.Context) Report {
	checks := make([]Check, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, probe := range c.probes {
		g.Go(func() error {
			checks[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return Report{Checks: checks}
}

// Check runs the probes and fails if any of them failed.
func (c *Checker) Check(ctx context.Context) error {
	return c.Run(ctx).Err()
}
