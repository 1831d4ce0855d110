/*
Package eventbus provides in-process, type-keyed event dispatch that allows loose coupling and event-based processing in an application.

# Design Priorities

Here are the design priorities of the implementation:

  - It should be as deterministic as possible, so listeners always run in a documented order.
  - It should be transparent in its results by reporting listener failures back to publishing code or to specific error handlers.
  - It should be easy to extend, with small interfaces for selecting listeners, spreading results, and wrapping dispatches.
  - It should require little in terms of constraints, so any Go value can be an event.

# Keys and Listeners

Every event is identified by a [Key], which is the event's type with an optional list of type arguments.
Go values don't carry type arguments at runtime, so [Context.Publish] always uses [KeyFor] with the event's runtime type.
Listeners bound to a parameterized key, created with [ParamKey] or [NewKey], are reached with [Context.PublishKey].

A [Listener] receives the event and may return a result.
Plain functions can be adapted with [Func], [Typed], and [Consumer], and methods can be adapted with [Method] or [BindMethod].
Listeners are matched by identity when unbinding, so a listener must either be comparable or implement [Equaler].

# Registrations

A listener is bound to a key as a [Registration], created with [NewRegistration].
The Registration decides how the listener is dispatched:
  - Order sets the priority. Lower values run first, and equal values run in the order they were bound.
  - Async runs the listener in its own goroutine, without blocking the publisher.
  - The [SpreadPattern] decides what happens to the listener's result. By default, [Edge] publishes results as new events.
  - The [EventProcessor] runs before and after the listener, which is useful for transactions, tracing, and logging.
  - The [ErrorHandler] decides whether a failure is propagated or replaced with a fallback.

# Contexts

A [Context] is an isolated, named set of bindings.
Each bound key has a [ListeningPattern] that selects which registrations run for a publish, and newly bound keys start with [Broadcast].
When the last registration for a key is unbound, the key's pattern is forgotten too.

Synchronous listeners run on the publisher's goroutine, in order.
A failing listener never prevents the remaining listeners from running, and the first propagated failure is returned from the publish.
Failures of asynchronous listeners are handed to the [AsyncErrorHandler] instead, and [Context.Wait] may be used to wait for asynchronous listeners to finish.

# Registry

A [Registry] holds named contexts with shared configuration.
Publishing to a context name that doesn't exist does nothing, while binding creates the named context as needed.
[Instance] returns a process-wide Registry with the [DefaultContext] already created.

Configuration is provided with [ConfigFunc] options, and some of it may be loaded from the environment with [ConfigFromEnv].
*/
package eventbus
