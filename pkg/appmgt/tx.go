package appmgt

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/appmgt/pkg/observability"
)

// Stage is a state of a write transaction.
type Stage string

const (
	StageOpen         Stage = "open"
	StageBasicInfo    Stage = "basic-info"
	StageInbound      Stage = "inbound"
	StageSteps        Stage = "steps"
	StageClaims       Stage = "claims"
	StageProvisioning Stage = "provisioning"
	StageRoles        Stage = "roles"
	StageDelete       Stage = "delete"
	StageCommitted    Stage = "committed"
	StageRolledBack   Stage = "rolled-back"
)

// WriteState carries the progress of one write operation across its stages.
type WriteState struct {
	AppID int64
	Stage Stage

	undo []func(context.Context) error
}

// OnRollback registers a compensating action for a side effect outside the
// transaction. Actions run in reverse order if the transaction rolls back.
func (ws *WriteState) OnRollback(fn func(context.Context) error) {
	ws.undo = append(ws.undo, fn)
}

// StageFunc performs the writes of one stage on the open transaction.
type StageFunc func(ctx context.Context, tx sqlx.ExtContext, ws *WriteState) error

// StagedWrite pairs a stage with its writes.
type StagedWrite struct {
	Stage Stage
	Run   StageFunc
}

// TxCoordinator runs the stages of a write operation in one transaction and
// rolls everything back when any stage fails.
type TxCoordinator struct {
	db      *sqlx.DB
	log     logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer

	beginBackoff func() backoff.BackOff
}

// NewTxCoordinator creates a coordinator over db.
func NewTxCoordinator(db *sqlx.DB, log logrus.FieldLogger, metrics *observability.Metrics, tracer trace.Tracer) *TxCoordinator {
	if log == nil {
		log = observability.DiscardLogger()
	}
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &TxCoordinator{
		db:      db,
		log:     log,
		metrics: metrics,
		tracer:  tracer,
		beginBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 50 * time.Millisecond
			bo.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(bo, 3)
		},
	}
}

// Run executes stages in order inside a single transaction:
//
//	OPEN -> stage... -> COMMITTED
//	any failure      -> ROLLED-BACK
//
// The triggering error is returned wrapped with the application id. When
// the rollback itself fails a critical PersistenceError carrying both causes
// is returned instead.
func (c *TxCoordinator) Run(ctx context.Context, op string, ws *WriteState, stages ...StagedWrite) (err error) {
	tx, err := c.begin(ctx)
	if err != nil {
		return &PersistenceError{Op: op, AppID: ws.AppID, Stage: StageOpen, Err: err}
	}
	ws.Stage = StageOpen
	log := observability.FromContext(ctx, c.log).WithField("op", op)

	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.rollback(ctx, tx, op, ws); rbErr != nil {
				log.WithError(rbErr).Error("rollback after panic failed")
			}
			panic(p)
		}
	}()

	for _, s := range stages {
		stageCtx, span := c.tracer.Start(ctx, "appmgt.stage."+string(s.Stage),
			trace.WithAttributes(attribute.String("appmgt.operation", op)))
		stageErr := s.Run(stageCtx, tx, ws)
		if stageErr != nil {
			span.RecordError(stageErr)
			span.SetStatus(codes.Error, stageErr.Error())
		}
		span.End()

		if stageErr != nil {
			return c.abort(ctx, log, tx, op, ws, s.Stage, stageErr)
		}
		ws.Stage = s.Stage
		log.WithFields(logrus.Fields{"stage": s.Stage, "app_id": ws.AppID}).Debug("stage written")
	}

	if err := tx.Commit(); err != nil {
		return c.abort(ctx, log, tx, op, ws, StageCommitted, fmt.Errorf("failed to commit: %w", err))
	}
	ws.Stage = StageCommitted
	return nil
}

// rollback undoes the transaction, which may already be finished by a failed
// commit, then runs the compensations in reverse registration order.
func (c *TxCoordinator) rollback(ctx context.Context, tx *sqlx.Tx, op string, ws *WriteState) error {
	var rbErr error
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		rbErr = multierror.Append(rbErr, fmt.Errorf("failed to roll back transaction: %w", err))
	}
	for i := len(ws.undo) - 1; i >= 0; i-- {
		if err := ws.undo[i](ctx); err != nil {
			rbErr = multierror.Append(rbErr, fmt.Errorf("failed to compensate: %w", err))
		}
	}
	ws.undo = nil
	ws.Stage = StageRolledBack
	c.metrics.RecordRollback(op, rbErr == nil)
	return rbErr
}

func (c *TxCoordinator) abort(ctx context.Context, log logrus.FieldLogger, tx *sqlx.Tx, op string, ws *WriteState, failed Stage, cause error) error {
	c.metrics.RecordStageFailure(op, string(failed))
	log = log.WithFields(logrus.Fields{"stage": failed, "app_id": ws.AppID})

	rbErr := c.rollback(ctx, tx, op, ws)
	if rbErr != nil {
		log.WithError(rbErr).WithField("cause", cause.Error()).Error("rollback failed")
		return rollbackFailure(op, ws.AppID, failed, cause, rbErr)
	}

	log.WithError(cause).Debug("transaction rolled back")
	if IsValidation(cause) || IsNotFound(cause) {
		if ws.AppID != 0 {
			return fmt.Errorf("failed to %s application %d: %w", op, ws.AppID, cause)
		}
		return fmt.Errorf("failed to %s application: %w", op, cause)
	}
	return &PersistenceError{Op: op, AppID: ws.AppID, Stage: failed, Err: cause}
}

// begin opens a transaction, retrying on broken pooled connections.
func (c *TxCoordinator) begin(ctx context.Context) (*sqlx.Tx, error) {
	var tx *sqlx.Tx
	operation := func() error {
		var err error
		tx, err = c.db.BeginTxx(ctx, nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, driver.ErrBadConn) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(operation, backoff.WithContext(c.beginBackoff(), ctx)); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
