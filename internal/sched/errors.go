package sched

import "errors"

var (
	ErrUnknownTemplate   = errors.New("unknown task template")
	ErrTaskCreate        = errors.New("kernel task creation failed")
	ErrPriority          = errors.New("kernel priority change failed")
	ErrEngineStopped     = errors.New("scheduler engine stopped")
	ErrNoReplyChannel    = errors.New("no free reply channel")
	ErrUnexpectedRequest = errors.New("unexpected scheduler request")
)
