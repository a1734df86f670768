package apihandlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/server/handlertools"
)

// MatchHandler godoc
//
//	@Summary		Scores an image against a list of texts
//	@Description	Each score is the softmax over the texts of the cosine similarity remapped to [0,1].
//	@Description	Scores sum to 1. Repeated texts are scored once.
//	@Tags			match
//	@Accept			json
//	@Produce		json
//	@Param			request	body		models.MatchRequest	true	"Texts and image source"
//	@Success		200		{object}	models.MatchResponse
//	@Failure		400		{object}	APIError	"Bad Request"
//	@Failure		500		{object}	APIError	"Internal Server Error"
//	@Router			/match [post]
func MatchHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.MatchRequest
		if err := handlertools.DecodeJSON(r, &req); err != nil {
			fail(w, appState, MatchEndpoint, err)
			return
		}

		// texts and the image source are validated before anything is fetched
		if err := validateMatchRequest(req); err != nil {
			fail(w, appState, MatchEndpoint, err)
			return
		}
		input, err := models.NewImageInput(req.ImageURL, req.ImageBase64, nil)
		if err != nil {
			fail(w, appState, MatchEndpoint, err)
			return
		}

		img, err := appState.ImageResolver.Resolve(r.Context(), input)
		if err != nil {
			fail(w, appState, MatchEndpoint, err)
			return
		}

		scores, err := appState.EmbeddingService.Match(r.Context(), img, req.Texts)
		if err != nil {
			fail(w, appState, MatchEndpoint, err)
			return
		}
		log.Debugf("matched %s image against %d texts", input.Source(), len(scores))

		succeed(w, appState, MatchEndpoint, models.MatchResponse{
			Success: true,
			Scores:  scores,
		})
	}
}

// validateMatchRequest maps struct validation failures to client-facing messages.
func validateMatchRequest(req models.MatchRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "notblank" {
		// dive errors name the element, e.g. Texts[1]
		index := strings.TrimPrefix(fieldErrs[0].Field(), "Texts")
		return models.NewValidationError("texts%s must not be empty", index)
	}
	return models.NewValidationError("texts must not be empty")
}
