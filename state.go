package replication

import (
	"context"
	"errors"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"go.uber.org/zap"
)

const sourceDatabaseType = "postgresql"

// prepareState describes the source tables and records them, with the
// target endpoint and the apply settings, for consumers without source
// access. A cursor recorded by an earlier run is kept.
func (r *Replicator) prepareState(ctx context.Context) ([]*table.Table, error) {
	src, err := r.openSource(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := r.describe(ctx, src)
	if err != nil {
		return nil, err
	}

	st := metadata.TaskState{
		UpdatedAt:          r.now().UTC(),
		Target:             r.cfg.Target,
		ReplicationType:    string(r.cfg.Task.ReplicationType),
		CDCMode:            string(r.cfg.Task.CDCMode),
		SourceDatabaseType: sourceDatabaseType,
		Tables:             tables,
	}
	prev, err := r.store.LoadState(ctx)
	switch {
	case err == nil:
		st.Cursor = prev.Cursor
	case !errors.Is(err, metadata.ErrNoState):
		r.logger.Warn("previous task state unreadable, replacing it", zap.Error(err))
	}
	if err := r.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	return tables, nil
}

// waitForState polls the metadata store until a producer recorded the task
// state.
func (r *Replicator) waitForState(ctx context.Context) ([]*table.Table, error) {
	logged := false
	for {
		st, err := r.store.LoadState(ctx)
		if err == nil {
			return st.Tables, nil
		}
		if !errors.Is(err, metadata.ErrNoState) {
			return nil, err
		}
		if !logged {
			r.logger.Info("waiting for the producer to record the task state")
			logged = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
