package sched

import (
	"context"
)

// Client is the public scheduler API. It is safe for concurrent use by any
// number of tasks; every call is a synchronous request/response exchange with
// the engine over a private reply channel.
type Client struct {
	requests chan<- request
	post     *postOffice
	done     <-chan struct{}
}

// Schedule creates a task from the template at templateIndex with a deadline
// deadlineTicks from now. On failure the returned id is NullTaskID.
func (c *Client) Schedule(ctx context.Context, templateIndex uint32, deadlineTicks uint32) (TaskID, error) {
	resp, err := c.call(ctx, func(reply ReplyID) request {
		return createRequest{template: templateIndex, ticks: Tick(deadlineTicks), reply: reply}
	})
	if err != nil {
		return NullTaskID, err
	}
	if resp.err != nil {
		return NullTaskID, resp.err
	}
	return resp.id, nil
}

// Cancel deletes a task. It reports false if the task is unknown.
//
// When id is the calling task itself (ctx carries its id) the request is sent
// without a reply channel and Cancel returns true immediately: the caller is
// expected to return from its body right away.
func (c *Client) Cancel(ctx context.Context, id TaskID) (bool, error) {
	if id != NullTaskID && TaskIDFromContext(ctx) == id {
		if err := c.send(ctx, selfTerminateRequest{id: id}); err != nil {
			return false, err
		}
		return true, nil
	}

	resp, err := c.call(ctx, func(reply ReplyID) request {
		return deleteRequest{id: id, reply: reply}
	})
	if err != nil {
		return false, err
	}
	return resp.found, resp.err
}

// ListActive returns a private copy of the active tasks in deadline order.
func (c *Client) ListActive(ctx context.Context) (TaskList, error) {
	resp, err := c.call(ctx, func(reply ReplyID) request {
		return listActiveRequest{reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.tasks, resp.err
}

// ListOverdue returns a private copy of the overdue tasks in the order their
// deadlines were missed.
func (c *Client) ListOverdue(ctx context.Context) (TaskList, error) {
	resp, err := c.call(ctx, func(reply ReplyID) request {
		return listOverdueRequest{reply: reply}
	})
	if err != nil {
		return nil, err
	}
	return resp.tasks, resp.err
}

// call opens a reply channel, sends the request built for it and waits for
// the single response.
func (c *Client) call(ctx context.Context, build func(ReplyID) request) (response, error) {
	reply, ch, err := c.post.Open()
	if err != nil {
		return response{}, err
	}
	defer c.post.Close(reply)

	if err := c.send(ctx, build(reply)); err != nil {
		return response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-c.done:
		// the engine may have answered just before stopping
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return response{}, ErrEngineStopped
		}
	}
}

func (c *Client) send(ctx context.Context, req request) error {
	select {
	case <-c.done:
		return ErrEngineStopped
	default:
	}
	select {
	case c.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrEngineStopped
	}
}
