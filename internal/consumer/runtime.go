// Package consumer implements the lifecycle every stage consumer shares:
// bind to the broker, receive one delivery at a time, decode its
// envelope, dispatch to the stage's handler, and apply the disposition
// the handler returns. The stage-specific work lives in internal/stages;
// this package only knows about the closed set of dispositions and the
// generic StageHandler contract.
package consumer

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/metrics"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/model"
)

// Disposition is the outcome a stage handler returns for one delivery.
type Disposition int

const (
	Ack Disposition = iota
	NackRequeue
	RejectNoRequeue
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case NackRequeue:
		return "nack-requeue"
	case RejectNoRequeue:
		return "reject-no-requeue"
	default:
		return "unknown"
	}
}

// Deps are the shared collaborators every stage handler's Process call
// receives: the database gateway, the broker client it should publish
// follow-on messages through, and the process metrics for this consumer.
type Deps struct {
	DB      *dbgateway.Gateway
	MQ      mqclient.Broker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// StageHandler is one node of the analysis DAG: a queue/routing-key
// binding plus the work it performs on each delivery.
type StageHandler interface {
	Name() string
	Topology() mqclient.Topology
	Process(ctx context.Context, deps *Deps, env model.Envelope) Disposition
}

// Runtime drives one StageHandler's lifecycle against one broker queue.
type Runtime struct {
	deps    *Deps
	handler StageHandler
}

func NewRuntime(deps *Deps, handler StageHandler) *Runtime {
	return &Runtime{deps: deps, handler: handler}
}

// Run binds topology, then receives and dispatches deliveries until ctx
// is cancelled or the broker connection drops. A connection drop is
// treated as fatal: Run returns a *mqclient.TransportError and the
// caller is expected to exit non-zero so an external supervisor restarts
// the process.
func (rt *Runtime) Run(ctx context.Context) error {
	topo := rt.handler.Topology()
	if err := rt.deps.MQ.DeclareTopology(topo); err != nil {
		return err
	}

	deliveries, err := rt.deps.MQ.Consume(topo.Queue)
	if err != nil {
		return err
	}
	closed := rt.deps.MQ.NotifyClose()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case amqpErr, ok := <-closed:
				if !ok {
					return nil
				}
				return &mqclient.TransportError{Op: "connection closed", Cause: errorOrNil(amqpErr)}
			case delivery, ok := <-deliveries:
				if !ok {
					return nil
				}
				rt.dispatch(gctx, delivery)
			}
		}
	})
	return g.Wait()
}

func (rt *Runtime) dispatch(ctx context.Context, delivery amqp.Delivery) {
	env, err := model.Decode(delivery.RoutingKey, delivery.Body)
	if err != nil {
		rt.deps.Logger.Error("poison envelope, rejecting without requeue",
			"stage", rt.handler.Name(), "routingKey", delivery.RoutingKey, "error", err)
		if rt.deps.Metrics != nil {
			rt.deps.Metrics.MessagesRejected.WithLabelValues(rt.handler.Name()).Inc()
		}
		_ = rt.deps.MQ.RejectNoRequeue(delivery.DeliveryTag)
		return
	}

	disposition := rt.handler.Process(ctx, rt.deps, env)
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.MessagesProcessed.WithLabelValues(rt.handler.Name(), disposition.String()).Inc()
	}

	var dispErr error
	switch disposition {
	case Ack:
		dispErr = rt.deps.MQ.Ack(delivery.DeliveryTag)
	case NackRequeue:
		dispErr = rt.deps.MQ.NackRequeue(delivery.DeliveryTag)
	case RejectNoRequeue:
		if rt.deps.Metrics != nil {
			rt.deps.Metrics.DeadLettered.WithLabelValues(rt.handler.Name()).Inc()
		}
		dispErr = rt.deps.MQ.RejectNoRequeue(delivery.DeliveryTag)
	}
	if dispErr != nil {
		rt.deps.Logger.Error("disposition failed", "stage", rt.handler.Name(), "disposition", disposition, "error", dispErr)
	}
}

func errorOrNil(e *amqp.Error) error {
	if e == nil {
		return nil
	}
	return e
}
