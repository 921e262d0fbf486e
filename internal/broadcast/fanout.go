package broadcast

import (
	"context"
	"errors"

	"chronicle/collab/internal/collab"
)

// Fanout publishes to every configured publisher and joins their errors.
type Fanout []collab.Publisher

func (f Fanout) Publish(ctx context.Context, event collab.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
