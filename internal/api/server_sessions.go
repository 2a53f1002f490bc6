package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chatcap/internal/types"
)

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status        string `json:"status"`
			ActiveSession string `json:"active_session,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.ActiveSession = svc.Active()
			return out, nil
		})
}

func registerSessionHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Sessions []types.SessionMeta `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List capture sessions, newest first", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			sessions, err := svc.ListSessions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Sessions = sessions
			if out.Body.Sessions == nil {
				out.Body.Sessions = []types.SessionMeta{}
			}
			return out, nil
		})

	type metaOutput struct {
		Body types.SessionMeta
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{id}", Summary: "Get session metadata", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*metaOutput, error) {
			meta, err := svc.GetSession(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &metaOutput{Body: meta}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{id}", Summary: "Delete a session and its files", Tags: []string{"Sessions"}, DefaultStatus: http.StatusNoContent},
		func(ctx context.Context, input *sessionIDInput) (*struct{}, error) {
			if err := svc.DeleteSession(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	type summaryOutput struct {
		Body *types.Summary
	}
	huma.Register(api, huma.Operation{OperationID: "get-summary", Method: http.MethodGet, Path: "/api/v1/sessions/{id}/summary", Summary: "Get the persisted session summary", Tags: []string{"Summary"}},
		func(ctx context.Context, input *sessionIDInput) (*summaryOutput, error) {
			sum, err := svc.GetSummary(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &summaryOutput{Body: sum}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "rebuild-summary", Method: http.MethodPost, Path: "/api/v1/sessions/{id}/summary", Summary: "Rebuild the summary from stored captures", Tags: []string{"Summary"}},
		func(ctx context.Context, input *sessionIDInput) (*summaryOutput, error) {
			sum, err := svc.RebuildSummary(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &summaryOutput{Body: sum}, nil
		})

	type requestsOutput struct {
		Body struct {
			Requests []types.RequestRecord `json:"requests"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/sessions/{id}/requests", Summary: "List requests seen during a session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*requestsOutput, error) {
			reqs, err := svc.ListRequests(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &requestsOutput{}
			out.Body.Requests = reqs
			return out, nil
		})
}
