/*
Package eventx is an in-process event dispatch toolkit built around the type-keyed event bus in patterns/eventbus.

Listeners are bound to event types, ordered by priority, and wrapped with processors that run before and after each dispatch.
The supporting packages provide those processors and the pieces around them:

  - sqlx runs a dispatch in a database transaction.
  - slogx logs dispatches, and provides slog handlers for deduplicating attributes and writing to multiple handlers.
  - otelx and promx record traces and metrics.
  - patterns/retry retries failing listeners with backoff.
  - syncx provides futures, which the bus awaits when they're returned as listener results.

See cmd/eventxdemo for all of these wired together.
*/
package eventx
