package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chatcap/internal/controller"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/sink"
	"github.com/dgnsrekt/chatcap/internal/types"
)

func registerCaptureHandlers(api huma.API, svc Service) {
	type startInput struct {
		Body struct {
			RequestTimeoutSec float64 `json:"request_timeout_sec,omitempty" minimum:"0" doc:"Seconds to wait for the conversation request (0 = configured default)"`
			TimeoutSec        float64 `json:"timeout_sec,omitempty" minimum:"0" doc:"Seconds to wait for completion (0 = configured default)"`
			IdleSec           float64 `json:"idle_sec,omitempty" minimum:"0" doc:"Seconds without new data that count as complete (0 = configured default)"`
		}
	}
	type startOutput struct {
		Body types.SessionMeta
	}
	huma.Register(api, huma.Operation{
		OperationID:   "start-capture",
		Method:        http.MethodPost,
		Path:          "/api/v1/captures",
		Summary:       "Attach to the conversation tab and capture the next answer",
		Description:   "Returns as soon as the session exists. Progress is streamed on /api/v1/events.",
		Tags:          []string{"Capture"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *startInput) (*startOutput, error) {
		meta, err := svc.StartCapture(ctx, controller.CaptureOptions{
			RequestTimeout: seconds(input.Body.RequestTimeoutSec),
			Timeout:        seconds(input.Body.TimeoutSec),
			Idle:           seconds(input.Body.IdleSec),
		})
		if err != nil {
			return nil, mapErr(err)
		}
		return &startOutput{Body: meta}, nil
	})

	type extractInput struct {
		Body struct {
			Raw string `json:"raw" minLength:"1" doc:"Raw SSE or JSON capture text"`
		}
	}
	type extractOutput struct {
		Body struct {
			Answer    string           `json:"answer"`
			Citations []types.Citation `json:"citations"`
			Events    int              `json:"events"`
			Source    extract.Source   `json:"source,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "extract", Method: http.MethodPost, Path: "/api/v1/extract", Summary: "Extract answer and citations from raw capture text", Tags: []string{"Extract"}},
		func(ctx context.Context, input *extractInput) (*extractOutput, error) {
			res, err := svc.Extract(ctx, input.Body.Raw)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &extractOutput{}
			out.Body.Answer = res.Answer
			out.Body.Citations = res.Citations
			if out.Body.Citations == nil {
				out.Body.Citations = []types.Citation{}
			}
			out.Body.Events = res.Events
			out.Body.Source = res.Source
			return out, nil
		})

	type resultsOutput struct {
		Body struct {
			Results []sink.Record `json:"results"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-results", Method: http.MethodGet, Path: "/api/v1/results", Summary: "List downstream result records", Tags: []string{"Results"}},
		func(ctx context.Context, input *struct{}) (*resultsOutput, error) {
			recs, err := svc.ListResults(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &resultsOutput{}
			out.Body.Results = recs
			if out.Body.Results == nil {
				out.Body.Results = []sink.Record{}
			}
			return out, nil
		})
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
