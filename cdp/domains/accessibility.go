package domains

import (
	"context"
	"fmt"

	cdpa "github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
)

// Accessibility exposes the CDP Accessibility and DOM domain actions
// needed to query the accessibility tree.
type Accessibility interface {
	Enable(context.Context) error
	// QueryByRole returns the accessibility nodes with the given role in
	// the current document, ignored ones included.
	QueryByRole(ctx context.Context, role string) ([]*cdpa.Node, error)
}

var _ Accessibility = &accessibility{}

type accessibility struct {
	exec cdp.Executor
}

// NewAccessibility returns a new CDP Accessibility domain wrapper.
func NewAccessibility(exec cdp.Executor) Accessibility {
	return &accessibility{exec}
}

func (a *accessibility) Enable(ctx context.Context) error {
	action := cdpa.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, a.exec)); err != nil {
		return fmt.Errorf("enabling accessibility CDP domain: %w", err)
	}

	return nil
}

func (a *accessibility) QueryByRole(ctx context.Context, role string) ([]*cdpa.Node, error) {
	ectx := cdp.WithExecutor(ctx, a.exec)

	// The document is fetched on each query as navigations replace it.
	doc, err := cdpdom.GetDocument().WithDepth(0).Do(ectx)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	nodes, err := cdpa.QueryAXTree().
		WithBackendNodeID(doc.BackendNodeID).
		WithRole(role).
		Do(ectx)
	if err != nil {
		return nil, fmt.Errorf("querying accessibility tree for role %q: %w", role, err)
	}

	return nodes, nil
}
