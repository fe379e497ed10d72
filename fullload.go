package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/staging"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"go.uber.org/zap"
)

const strategyFullLoad = "full_load"

// FullLoad copies every table once: source rows go through a staging file,
// the table pipeline, the destination directives and a bulk copy.
type FullLoad struct {
	r *Replicator
}

func (f *FullLoad) Name() string {
	return strategyFullLoad
}

// Execute loads every table in priority order. A failed table does not stop
// the others; all failures are returned together.
func (f *FullLoad) Execute(ctx context.Context) error {
	src, err := f.r.openSource(ctx)
	if err != nil {
		return err
	}
	loader, err := f.r.openLoader(ctx)
	if err != nil {
		return err
	}
	tables, err := f.r.describe(ctx, src)
	if err != nil {
		return err
	}

	logger := f.r.logger.Named("full_load")
	var errs []error
	for _, t := range tables {
		stats, err := f.load(ctx, src, loader, t)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("table load failed", zap.String("table", t.FullName()), zap.Error(err))
			f.r.recordFailure(ctx, t, strategyFullLoad, err)
			errs = append(errs, err)
			continue
		}
		logger.Info("table loaded",
			zap.String("table", t.FullName()),
			zap.String("target", t.TargetFullName()),
			zap.Int("rows", stats.Total))
	}
	return errors.Join(errs...)
}

func (f *FullLoad) load(ctx context.Context, src TableSource, loader TableLoader, t *table.Table) (apply.RunStats, error) {
	var stats apply.RunStats
	started := f.r.now()
	// the artifact is named after the destination, which renames may change
	dest := t.Template()
	if err := f.r.transformer.Execute(dest); err != nil {
		return stats, err
	}
	path := staging.Path(f.r.cfg.Task.FullLoad.StagingPath, config.Sanitize(f.r.cfg.Task.Name), dest.TargetSchema, dest.TargetName)

	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	w, err := staging.Create(path, names)
	if err != nil {
		return stats, err
	}
	if err := src.ReadTable(ctx, t, w.Write); err != nil {
		_ = w.Close()
		return stats, fmt.Errorf("stage %s: %w", t.FullName(), err)
	}
	if err := w.Close(); err != nil {
		return stats, err
	}

	data, err := staging.Read(ctx, path)
	if err != nil {
		return stats, err
	}
	rows, err := parseRows(f.r.catalog, t, data)
	if err != nil {
		return stats, err
	}
	if err := t.SetPayload(rows); err != nil {
		return stats, err
	}
	if err := f.r.transformer.Execute(t); err != nil {
		return stats, err
	}

	if err := loader.Prepare(ctx, t, f.r.cfg.Task.FullLoad); err != nil {
		return stats, err
	}
	n, err := loader.Copy(ctx, t)
	if err != nil {
		return stats, err
	}
	stats.Inserts = int(n)
	stats.Total = int(n)

	if err := staging.Remove(path); err != nil {
		f.r.logger.Warn("staging file left behind", zap.String("path", path), zap.Error(err))
	}
	f.r.recordStats(ctx, metadata.Stats{
		Started:  started,
		Finished: f.r.now(),
		Strategy: strategyFullLoad,
		Schema:   t.TargetSchema,
		Table:    t.TargetName,
		RunStats: stats,
	})
	return stats, nil
}

// recordStats and recordFailure write to the metadata store; failures there
// only get logged.
func (r *Replicator) recordStats(ctx context.Context, st metadata.Stats) {
	st.RunID = r.runID
	if err := r.store.RecordStats(ctx, st); err != nil {
		r.logger.Error("record stats", zap.Error(err))
	}
}

func (r *Replicator) recordFailure(ctx context.Context, t *table.Table, kind string, cause error) {
	err := r.store.RecordException(ctx, apply.Exception{
		Time:    r.now(),
		Schema:  t.TargetSchema,
		Table:   t.TargetName,
		Message: cause.Error(),
		Kind:    kind,

		TransactionID: apply.TransactionFrom(ctx),
	})
	if err != nil {
		r.logger.Error("record exception", zap.Error(err))
	}
}
