package layout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SendFunc delivers an update to the client.
type SendFunc func(ctx context.Context, u Update) error

// RecvFunc blocks until the next client event.
type RecvFunc func(ctx context.Context) (Event, error)

// Serve runs the render→send and recv→deliver loops until one of them
// fails or ctx is cancelled. It returns the first error. Updates are sent in
// render order and events delivered in the order recv returns them.
func Serve(ctx context.Context, l *Layout, send SendFunc, recv RecvFunc) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			u, err := l.Render(ctx)
			if err != nil {
				return err
			}
			if err := send(ctx, u); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for {
			ev, err := recv(ctx)
			if err != nil {
				return err
			}
			if err := l.Deliver(ctx, ev); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}
