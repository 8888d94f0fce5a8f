package hub

import "context"

// Relay attaches to src immediately and returns a pump that distributes every
// item accepted by f into dst. The pump returns, closing dst, when src closes
// or ctx ends.
//
// Attaching before the pump starts means nothing distributed on src after the
// Relay call is lost, whenever the pump gets scheduled.
func Relay[In, Out any](src *Diverter[In], dst *Diverter[Out], f func(In) (Out, bool)) func(ctx context.Context) error {
	ch := src.Attach()
	return func(ctx context.Context) error {
		defer dst.Close()
		defer ch.Detach()
		for {
			v, ok := ch.Recv(ctx)
			if !ok {
				return nil
			}
			if out, keep := f(v); keep {
				dst.Distribute(out)
			}
		}
	}
}
