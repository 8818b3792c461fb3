package domains

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	cdpr "github.com/chromedp/cdproto/runtime"
)

// Runtime exposes the CDP Runtime actions used to evaluate functions
// against DOM nodes.
type Runtime interface {
	// CallOnNode calls the JavaScript function declaration with this bound
	// to the DOM node and decodes its JSON result into out.
	CallOnNode(ctx context.Context, node cdp.BackendNodeID, function string, out interface{}) error
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

func (r *runtime) CallOnNode(ctx context.Context, node cdp.BackendNodeID, function string, out interface{}) (err error) {
	ectx := cdp.WithExecutor(ctx, r.exec)

	obj, err := cdpdom.ResolveNode().WithBackendNodeID(node).Do(ectx)
	if err != nil {
		return fmt.Errorf("resolving node %d: %w", node, err)
	}
	defer func() {
		if rerr := cdpr.ReleaseObject(obj.ObjectID).Do(ectx); rerr != nil && err == nil {
			err = fmt.Errorf("releasing node %d: %w", node, rerr)
		}
	}()

	res, exc, err := cdpr.CallFunctionOn(function).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ectx)
	if err != nil {
		return fmt.Errorf("calling function on node %d: %w", node, err)
	}
	if exc != nil {
		return fmt.Errorf("calling function on node %d: %w", node, exc)
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decoding function result: %w", err)
	}

	return nil
}
