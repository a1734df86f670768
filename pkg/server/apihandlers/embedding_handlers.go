package apihandlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/server/handlertools"
)

var log = internal.GetLogger()

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		log.Errorf("error registering notblank validation: %v", err)
	}
	return v
}

const (
	ImageEmbeddingEndpoint = "/embeddings/image"
	TextEmbeddingEndpoint  = "/embeddings/text"
	MatchEndpoint          = "/match"

	multipartMaxMemory = 8 << 20
	uploadField        = "file"
)

// ImageEmbeddingHandler godoc
//
//	@Summary		Embeds an image
//	@Description	The image is given as exactly one of image_url, image_base64 or a multipart file upload.
//	@Description	The raw, unnormalized image encoder output is returned.
//	@Tags			embeddings
//	@Accept			json,mpfd
//	@Produce		json
//	@Param			request	body		models.ImageEmbeddingRequest	false	"Image source"
//	@Param			file	formData	file							false	"Image file"
//	@Success		200		{object}	models.EmbeddingResponse
//	@Failure		400		{object}	APIError	"Bad Request"
//	@Failure		500		{object}	APIError	"Internal Server Error"
//	@Router			/embeddings/image [post]
func ImageEmbeddingHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embedding, err := embedImage(r, appState)
		if err != nil {
			fail(w, appState, ImageEmbeddingEndpoint, err)
			return
		}

		succeed(w, appState, ImageEmbeddingEndpoint, models.EmbeddingResponse{
			Success:   true,
			Embedding: embedding,
		})
	}
}

func embedImage(r *http.Request, appState *models.AppState) (models.EmbeddingVector, error) {
	input, err := imageInputFromRequest(r)
	if err != nil {
		return nil, err
	}

	img, err := appState.ImageResolver.Resolve(r.Context(), input)
	if err != nil {
		return nil, err
	}

	return appState.EmbeddingService.EmbedImage(r.Context(), img)
}

// imageInputFromRequest reads the image source from a JSON or multipart body.
func imageInputFromRequest(r *http.Request) (models.ImageInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req models.ImageEmbeddingRequest
		if err := handlertools.DecodeJSON(r, &req); err != nil {
			return nil, err
		}
		return models.NewImageInput(req.ImageURL, req.ImageBase64, nil)
	}

	if err := r.ParseMultipartForm(multipartMaxMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, err
		}
		return nil, models.NewValidationError("invalid multipart body: %v", err)
	}

	upload := []byte{}
	file, _, err := r.FormFile(uploadField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, models.NewValidationError("invalid %s field: %v", uploadField, err)
	default:
		defer file.Close()
		upload, err = io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
	}

	return models.NewImageInput(r.FormValue("image_url"), r.FormValue("image_base64"), upload)
}

// TextEmbeddingHandler godoc
//
//	@Summary	Embeds a text
//	@Tags		embeddings
//	@Accept		json
//	@Produce	json
//	@Param		request	body		models.TextEmbeddingRequest	true	"Text to embed"
//	@Success	200		{object}	models.EmbeddingResponse
//	@Failure	400		{object}	APIError	"Bad Request"
//	@Failure	500		{object}	APIError	"Internal Server Error"
//	@Router		/embeddings/text [post]
func TextEmbeddingHandler(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TextEmbeddingRequest
		if err := handlertools.DecodeJSON(r, &req); err != nil {
			fail(w, appState, TextEmbeddingEndpoint, err)
			return
		}
		if err := validate.Struct(req); err != nil {
			fail(w, appState, TextEmbeddingEndpoint, models.NewValidationError("text must not be empty"))
			return
		}

		embedding, err := appState.EmbeddingService.EmbedText(r.Context(), req.Text)
		if err != nil {
			fail(w, appState, TextEmbeddingEndpoint, err)
			return
		}

		succeed(w, appState, TextEmbeddingEndpoint, models.EmbeddingResponse{
			Success:   true,
			Embedding: embedding,
		})
	}
}

func succeed(w http.ResponseWriter, appState *models.AppState, endpoint string, body any) {
	appState.Metrics.ObserveRequest(endpoint, "success")
	handlertools.RenderJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, appState *models.AppState, endpoint string, err error) {
	appState.Metrics.ObserveRequest(endpoint, handlertools.ErrorKind(err))
	handlertools.RenderError(w, err)
}
