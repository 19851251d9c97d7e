// Package relaybox provides reliable event delivery between services using
// the transactional outbox and inbox patterns over pluggable broker
// transports.
//
// Events raised inside a unit-of-work scope are written to a durable outbox
// table in the same database transaction as the business mutation. A
// background processor drains the outbox to the broker with retry and
// exponential backoff, so a committed operation's events are eventually
// published even across crashes and broker outages. On the receiving side an
// inbox table deduplicates redelivered messages by event id, giving handlers
// at-most-once effect on top of the broker's at-least-once delivery.
//
// Minimal usage:
//
//	conf, _ := relaybox.ConfigFromEnv()
//	log := relaybox.NewSlogServiceLogger(slog.Default())
//	svc, err := relaybox.TryNewService(ctx, conf, log, relaybox.ServiceDependencies{})
//	if err != nil {
//		// handle
//	}
//	svc.Subscribe("order.placed", func(ctx context.Context, env relaybox.Envelope) error {
//		// idempotent thanks to the inbox
//		return nil
//	})
//	go svc.Start(ctx)
//
//	scope, _ := svc.CreateUnitOfWork(ctx, relaybox.UnitOfWorkOptions{})
//	defer scope.Rollback()
//	// business statements via scope.ExecContext ...
//	_ = svc.Publish(relaybox.UnitOfWorkContext(ctx, scope), OrderPlaced{...})
//	_ = scope.Commit(ctx)
//
// Broker backends register themselves with the transport registry; import
// github.com/burgan-tech/relaybox/transport/transports to enable all built-in
// transports, or import individual sub-packages to keep the dependency
// surface small.
package relaybox
