// Package accumulator implements the threshold-encoding gradient accumulator
// that sits between a model and the parameter-exchange client.
//
// Local gradients are added into a residual. Every component whose residual
// magnitude reaches the threshold is transmitted as a single signed step of
// size threshold and the step is subtracted from the residual; everything
// below the threshold stays in the residual for later rounds. Reset clears the
// residual so nothing leaks from one work unit into the next.
//
// The memory budget is BufferSize x BufferCount: no encoded payload may exceed
// BufferSize and at most BufferCount updates may wait for application. A budget
// larger than the configured limit is rejected at construction.
package accumulator
