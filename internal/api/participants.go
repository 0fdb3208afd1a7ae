package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/meet_torture/internal/controller"
)

func registerParticipantHandlers(api huma.API, svc Service) {
	type participantNameInput struct {
		Name string `path:"name" doc:"Participant display name"`
	}
	type statusOutput struct {
		Body controller.Status
	}

	type listParticipantsOutput struct {
		Body struct {
			Participants []controller.Status `json:"participants"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-participants", Method: http.MethodGet, Path: "/api/v1/participants", Summary: "List participants", Tags: []string{"Participants"}},
		func(ctx context.Context, input *struct{}) (*listParticipantsOutput, error) {
			list, err := svc.ListParticipants(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listParticipantsOutput{}
			out.Body.Participants = list
			if out.Body.Participants == nil {
				out.Body.Participants = []controller.Status{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-participant", Method: http.MethodGet, Path: "/api/v1/participants/{name}", Summary: "Get participant status", Description: "Joined participants also report MUC, ICE, endpoint id and bitrate.", Tags: []string{"Participants"}},
		func(ctx context.Context, input *participantNameInput) (*statusOutput, error) {
			st, err := svc.GetParticipant(ctx, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return &statusOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "hangup-participant", Method: http.MethodPost, Path: "/api/v1/participants/{name}/hangup", Summary: "Hang up a participant", Tags: []string{"Participants"}},
		func(ctx context.Context, input *participantNameInput) (*statusOutput, error) {
			st, err := svc.HangUp(ctx, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return &statusOutput{Body: st}, nil
		})

	type screenshotOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "participant-screenshot",
		Method:      http.MethodGet,
		Path:        "/api/v1/participants/{name}/screenshot",
		Summary:     "Capture the participant's window",
		Tags:        []string{"Participants"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Screenshot",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *participantNameInput) (*screenshotOutput, error) {
		data, err := svc.Screenshot(ctx, input.Name)
		if err != nil {
			return nil, mapErr(err)
		}
		return &screenshotOutput{ContentType: "image/png", Body: data}, nil
	})
}
