package task

import (
	"context"
	"fmt"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

// Engine 任务执行所需的检索引擎能力。
type Engine interface {
	ProcessDocuments(ctx context.Context, clearExisting bool, p biz.ProgressReporter) (*biz.IndexResult, error)
	ClearIndex(ctx context.Context, p biz.ProgressReporter) (*biz.ClearResult, error)
	Query(ctx context.Context, question string, p biz.ProgressReporter) (*biz.QueryResult, error)
	BatchQuery(ctx context.Context, questions []string, p biz.ProgressReporter) (*biz.BatchResult, error)
}

var _ Engine = (*biz.Engine)(nil)

// Execute 按任务类型调用引擎，返回对应的结果。
func Execute(ctx context.Context, e Engine, spec JobSpec, r *Reporter) (*Result, error) {
	res := &Result{Kind: spec.Kind}
	var err error

	switch spec.Kind {
	case KindIndexBuild:
		res.Index, err = e.ProcessDocuments(ctx, spec.ClearExisting, r)
	case KindClearIndex:
		res.Clear, err = e.ClearIndex(ctx, r)
	case KindSingleQuery:
		res.Query, err = e.Query(ctx, spec.Question, r)
	case KindBatchQuery:
		res.Batch, err = e.BatchQuery(ctx, spec.Questions, r)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, spec.Kind)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
