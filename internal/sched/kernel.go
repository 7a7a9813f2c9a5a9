package sched

import "context"

// Priority is a kernel priority level. Lower values are scheduled first.
type Priority uint32

// Kernel is the fixed-priority task control the scheduler layers deadlines on.
type Kernel interface {
	// CreateSuspended creates a task that does not run until Release.
	CreateSuspended(tmpl Template) (TaskID, error)
	Release(id TaskID) error
	Destroy(id TaskID) error
	SetPriority(id TaskID, p Priority) error
}

type taskIDKey struct{}

// WithTaskID returns a context that identifies the running kernel task.
// Kernels pass such a context to task bodies so Cancel can recognise
// a task deleting itself.
func WithTaskID(ctx context.Context, id TaskID) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the kernel task the context belongs to, or NullTaskID.
func TaskIDFromContext(ctx context.Context) TaskID {
	if ctx == nil {
		return NullTaskID
	}
	id, _ := ctx.Value(taskIDKey{}).(TaskID)
	return id
}
