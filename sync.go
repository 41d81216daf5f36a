// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"io"
)

// syncResult carries the outcome of a synchronous request.
type syncResult struct {
	resp *Response
	err  error
}

// Execute runs an IPP request and waits for its response.
//
// The request goes through the same worker pool and connection cache as
// [*Engine.Submit]. When ctx is done first, the request is canceled and
// Execute returns ctx.Err(); the transport call is not interrupted.
func (e *Engine) Execute(ctx context.Context, payload []byte, server, path string) (*Response, error) {
	result, err := e.wait(ctx, Request{Server: server, Path: path, Payload: payload})
	return result.resp, err
}

// GetFile downloads path from server into sink and waits for completion.
//
// Cancellation through ctx behaves like in [*Engine.Execute]. Bytes
// already written to sink when an error occurs are left there.
func (e *Engine) GetFile(ctx context.Context, server, path string, sink io.Writer) error {
	_, err := e.wait(ctx, Request{Server: server, Path: path, Sink: sink})
	return err
}

func (e *Engine) wait(ctx context.Context, req Request) (syncResult, error) {
	done := make(chan syncResult, 1)
	req.Mode = DeliverDirect
	req.Callback = func(_ RequestID, _ string, resp *Response, err error, _ any) {
		done <- syncResult{resp: resp, err: err}
	}
	id, err := e.Enqueue(req)
	if err != nil {
		return syncResult{}, err
	}
	select {
	case result := <-done:
		return result, result.err
	case <-ctx.Done():
		e.Cancel(id)
		return syncResult{}, ctx.Err()
	}
}
