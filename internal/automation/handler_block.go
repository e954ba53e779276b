package automation

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/hopworks/brewpilot-core/internal/spark"
)

// BlockCache provides the live cached block state conditions read.
// Satisfied by *eventcache.Cache.
type BlockCache interface {
	GetBlocks(serviceID string) []spark.Block
}

// BlockWriter applies block changes to a device service.
// Satisfied by *spark.Client.
type BlockWriter interface {
	WriteBlock(ctx context.Context, block *spark.Block) (*spark.Block, error)
}

// blockValueHandler implements the BlockValue condition: compare a
// field of a cached block against a configured value.
type blockValueHandler struct {
	baseHandler
	cache BlockCache
}

func (h *blockValueHandler) Check(_ context.Context, impl Impl, _ *HandlerContext) (bool, error) {
	cfg := impl.(BlockValueImpl)

	// A half-configured item must never block a step.
	if cfg.ServiceID == "" || cfg.BlockID == "" {
		return true, nil
	}

	block := findBlock(h.cache, cfg.ServiceID, cfg.BlockID)
	if block == nil {
		return false, fmt.Errorf("%w: %s/%s", spark.ErrBlockNotFound, cfg.ServiceID, cfg.BlockID)
	}

	var actual any
	if v, ok := spark.FieldByKey(block.Data, cfg.Key); ok {
		actual = spark.ResolveMeta(v)
	}
	expected := spark.ResolveMeta(cfg.Value)

	return compareValues(actual, cfg.Operator, expected)
}

// blockPatchHandler implements the BlockPatch action: merge data into
// a cached block and write the result to the owning service.
type blockPatchHandler struct {
	baseHandler
	cache  BlockCache
	writer BlockWriter
}

func (h *blockPatchHandler) Apply(ctx context.Context, impl Impl, _ *HandlerContext) error {
	cfg := impl.(BlockPatchImpl)

	// A half-configured item is skipped, same as BlockValue: erroring
	// here would wedge the step on config the editor left blank.
	if cfg.ServiceID == "" || cfg.BlockID == "" {
		return nil
	}

	block := findBlock(h.cache, cfg.ServiceID, cfg.BlockID)
	if block == nil {
		return fmt.Errorf("%w: %s/%s", spark.ErrBlockNotFound, cfg.ServiceID, cfg.BlockID)
	}

	blockType := cfg.BlockType
	if blockType == "" {
		blockType = block.Type
	}

	out := &spark.Block{
		ID:        cfg.BlockID,
		ServiceID: cfg.ServiceID,
		Type:      blockType,
		Data:      spark.MergeBlockData(block.Data, cfg.Data),
	}

	if _, err := h.writer.WriteBlock(ctx, out); err != nil {
		return err
	}
	return nil
}

func findBlock(cache BlockCache, serviceID, blockID string) *spark.Block {
	for _, b := range cache.GetBlocks(serviceID) {
		if b.ID == blockID {
			return &b
		}
	}
	return nil
}

// compareValues applies a comparison operator to two resolved values.
//
// Numeric comparisons round both sides to two decimals first: block
// values are sensor readings and sub-centi noise must not flap a
// condition. Non-numeric values support only equality operators;
// ordering operators on them report false rather than erroring, since
// the configured value may legitimately be a string state.
func compareValues(actual any, operator string, expected any) (bool, error) {
	av, aNum := toFloat(actual)
	ev, eNum := toFloat(expected)

	if aNum && eNum {
		a := roundCenti(av)
		e := roundCenti(ev)
		switch operator {
		case OpLT:
			return a < e, nil
		case OpLE:
			return a <= e, nil
		case OpEQ:
			return a == e, nil
		case OpNE:
			return a != e, nil
		case OpGE:
			return a >= e, nil
		case OpGT:
			return a > e, nil
		default:
			return false, fmt.Errorf("automation: unknown operator %q", operator)
		}
	}

	switch operator {
	case OpEQ:
		return reflect.DeepEqual(actual, expected), nil
	case OpNE:
		return !reflect.DeepEqual(actual, expected), nil
	case OpLT, OpLE, OpGE, OpGT:
		return false, nil
	default:
		return false, fmt.Errorf("automation: unknown operator %q", operator)
	}
}

func roundCenti(v float64) float64 {
	return math.Round(v*100) / 100
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
