package apihandlers

// APIError represents an error response. Used for swagger documentation.
type APIError struct {
	Success bool   `json:"success" example:"false"`
	Detail  string `json:"detail"  example:"validation error: must supply exactly one of image_url or image_base64"`
}
