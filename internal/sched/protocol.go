package sched

// request is a message on the engine's request channel.
type request interface {
	replyTo() (ReplyID, bool)
}

type createRequest struct {
	template uint32
	ticks    Tick
	reply    ReplyID
}

// deleteRequest deletes a task on behalf of another task, which waits for the result.
type deleteRequest struct {
	id    TaskID
	reply ReplyID
}

// selfTerminateRequest is sent by a task deleting itself. Nobody waits for a
// reply because the sender is about to be destroyed.
type selfTerminateRequest struct {
	id TaskID
}

type listActiveRequest struct{ reply ReplyID }

type listOverdueRequest struct{ reply ReplyID }

func (r createRequest) replyTo() (ReplyID, bool)        { return r.reply, true }
func (r deleteRequest) replyTo() (ReplyID, bool)        { return r.reply, true }
func (r selfTerminateRequest) replyTo() (ReplyID, bool) { return 0, false }
func (r listActiveRequest) replyTo() (ReplyID, bool)    { return r.reply, true }
func (r listOverdueRequest) replyTo() (ReplyID, bool)   { return r.reply, true }

// response is the single reply delivered on a reply channel.
type response struct {
	id    TaskID
	found bool
	tasks TaskList
	err   error
}
