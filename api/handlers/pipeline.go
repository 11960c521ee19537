package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/service"
)

type TableOutput struct {
	Body service.TableResult
}

type TSUInput struct {
	Body service.TSURequest
}

type BlocksInput struct {
	Body service.BlocksRequest
}

type GridInput struct {
	Body service.GridRequest
}

type LCZInput struct {
	Body service.LCZRequest
}

// TSUHandler builds the spatial units of a zone.
func TSUHandler(p *service.Pipeline) func(ctx context.Context, input *TSUInput) (*TableOutput, error) {
	return func(ctx context.Context, input *TSUInput) (*TableOutput, error) {
		return respond(p.TSU(ctx, input.Body))
	}
}

func BlocksHandler(p *service.Pipeline) func(ctx context.Context, input *BlocksInput) (*TableOutput, error) {
	return func(ctx context.Context, input *BlocksInput) (*TableOutput, error) {
		return respond(p.Blocks(ctx, input.Body))
	}
}

func GridHandler(p *service.Pipeline) func(ctx context.Context, input *GridInput) (*TableOutput, error) {
	return func(ctx context.Context, input *GridInput) (*TableOutput, error) {
		return respond(p.Grid(ctx, input.Body))
	}
}

func LCZHandler(p *service.Pipeline) func(ctx context.Context, input *LCZInput) (*TableOutput, error) {
	return func(ctx context.Context, input *LCZInput) (*TableOutput, error) {
		return respond(p.LCZ(ctx, input.Body))
	}
}

// respond answers 422 on unusable input and 500 on engine failures.
func respond(result service.TableResult, err error) (*TableOutput, error) {
	if err != nil {
		if errors.IsPrecondition(err) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		log.Errorf("Pipeline step failed: %v", err)
		return nil, huma.Error500InternalServerError(err.Error())
	}

	return &TableOutput{Body: result}, nil
}
