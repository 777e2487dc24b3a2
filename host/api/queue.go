// Package api serves the axis over HTTP: JSON commands and status, a
// websocket status stream and the command journal.
package api

import (
	"context"

	"stepdrive/standalone"
)

// Job runs on the control loop, the only goroutine that touches the Manager
type Job func(m *standalone.Manager)

// Queue hands jobs from HTTP handlers to the control loop
type Queue struct {
	jobs chan Job
}

func NewQueue() *Queue {
	return &Queue{jobs: make(chan Job)}
}

// Jobs is the channel the control loop drains
func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}

// Do runs fn on the control loop and waits for it to return. ctx only
// bounds the wait for the loop to pick the job up.
func (q *Queue) Do(ctx context.Context, fn Job) error {
	done := make(chan struct{})
	job := func(m *standalone.Manager) {
		defer close(done)
		fn(m)
	}
	select {
	case q.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}
