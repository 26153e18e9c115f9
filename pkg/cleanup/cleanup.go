// Package cleanup registers teardown jobs run once during graceful
// shutdown, in the order they were registered.
package cleanup

import "log/slog"

var jobs = make([]*Job, 0)

type Job struct {
	Name string
	Func func() error
}

func Register(j *Job) {
	jobs = append(jobs, j)
}

func CleanUp() {
	slog.Info("cleaning up resources...")
	for _, j := range jobs {
		slog.Info("running cleanup job", "name", j.Name)
		if err := j.Func(); err != nil {
			slog.Error("error cleaning up", "name", j.Name, "error", err)
		}
	}
	slog.Info("cleanup done")
}
