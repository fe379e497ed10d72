// Package capture reads committed changes from a logical replication slot
// and structures them into paged change batches.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pglogrepl"
	"go.uber.org/zap"
)

const TestDecoding = "test_decoding"

var ErrSlotInUse = errors.New("replication slot is active in another session")

type SlotInfo struct {
	Name   string
	Plugin string
	Active bool
}

// SlotSource is what a source endpoint offers for slot based capture.
type SlotSource interface {
	Slots(ctx context.Context, prefix string) ([]SlotInfo, error)
	CreateSlot(ctx context.Context, name, plugin string) error
	DropSlot(ctx context.Context, name string) error
	PeekChanges(ctx context.Context, slot string) ([]RawChange, error)
	AdvanceSlot(ctx context.Context, slot string, upTo pglogrepl.LSN) error
}

// EnsureSlot drops inactive slots that share prefix but are not name, then
// creates name if it does not exist yet.
func EnsureSlot(ctx context.Context, src SlotSource, name, prefix, plugin string) error {
	slots, err := src.Slots(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list replication slots: %w", err)
	}
	logger := zap.L().Named("slot")

	var exists bool
	for _, s := range slots {
		if s.Name == name {
			if s.Plugin != plugin {
				if s.Active {
					return fmt.Errorf("slot %s uses plugin %s: %w", name, s.Plugin, ErrSlotInUse)
				}
				logger.Warn("recreating slot with a different plugin",
					zap.String("slot", name), zap.String("was", s.Plugin), zap.String("plugin", plugin))
				if err := src.DropSlot(ctx, name); err != nil {
					return fmt.Errorf("drop slot %s: %w", name, err)
				}
				continue
			}
			exists = true
			continue
		}
		if s.Active {
			logger.Warn("stale slot is still active, leaving it", zap.String("slot", s.Name))
			continue
		}
		logger.Info("dropping stale slot", zap.String("slot", s.Name))
		if err := src.DropSlot(ctx, s.Name); err != nil {
			return fmt.Errorf("drop stale slot %s: %w", s.Name, err)
		}
	}
	if exists {
		return nil
	}
	logger.Info("creating slot", zap.String("slot", name), zap.String("plugin", plugin))
	if err := src.CreateSlot(ctx, name, plugin); err != nil {
		return fmt.Errorf("create slot %s: %w", name, err)
	}
	return nil
}

// Capturer runs one capture cycle at a time against a test_decoding slot.
// Changes stay in the slot until Commit confirms they were handed off.
type Capturer struct {
	src        SlotSource
	structurer *Structurer
	logger     *zap.Logger
	slot       string
	prefix     string
	ensured    bool
}

func NewCapturer(src SlotSource, structurer *Structurer, slot, prefix string) *Capturer {
	return &Capturer{
		src:        src,
		structurer: structurer,
		slot:       slot,
		prefix:     prefix,
		logger:     zap.L().Named("capture"),
	}
}

func (c *Capturer) Slot() string {
	return c.slot
}

// Capture reads every pending change line and structures it. Failures are
// returned to the caller; the next cycle starts over from the slot.
func (c *Capturer) Capture(ctx context.Context) (Result, error) {
	if !c.ensured {
		if err := EnsureSlot(ctx, c.src, c.slot, c.prefix, TestDecoding); err != nil {
			return Result{}, err
		}
		c.ensured = true
	}

	raws, err := c.src.PeekChanges(ctx, c.slot)
	if err != nil {
		c.ensured = false
		return Result{}, fmt.Errorf("read slot %s: %w", c.slot, err)
	}
	txs, skipped, err := Assemble(raws)
	if err != nil {
		return Result{}, err
	}
	for _, e := range skipped {
		c.logger.Error("change skipped", zap.String("slot", c.slot), zap.Error(e))
	}

	res := c.structurer.Structure(txs)
	if len(raws) > 0 {
		fields := []zap.Field{
			zap.Int("lines", len(raws)),
			zap.Int("transactions", len(txs)),
			zap.Stringer("cursor", res.Cursor),
		}
		if res.Batch != nil {
			fields = append(fields, zap.Int("operations", res.Batch.TotalChangeCount), zap.Int("pages", len(res.Batch.Pages)))
		}
		c.logger.Debug("capture cycle", fields...)
	}
	return res, nil
}

// Commit releases everything up to cursor from the slot.
func (c *Capturer) Commit(ctx context.Context, cursor pglogrepl.LSN) error {
	if cursor == 0 {
		return nil
	}
	if err := c.src.AdvanceSlot(ctx, c.slot, cursor); err != nil {
		return fmt.Errorf("advance slot %s to %s: %w", c.slot, cursor, err)
	}
	return nil
}
