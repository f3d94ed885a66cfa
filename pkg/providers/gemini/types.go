package gemini

// Wire types for the generateContent API. Only the fields this package
// reads are declared; unknown fields are ignored by encoding/json.

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// part is either a text part or an inline image. The API accepts
// snake_case on input and answers in camelCase, so both spellings decode.
type part struct {
	Text            string `json:"text,omitempty"`
	InlineData      *blob  `json:"inline_data,omitempty"`
	InlineDataCamel *blob  `json:"inlineData,omitempty"`
}

func (p part) image() *blob {
	if p.InlineDataCamel != nil {
		return p.InlineDataCamel
	}
	return p.InlineData
}

type blob struct {
	MimeType      string `json:"mime_type,omitempty"`
	MimeTypeCamel string `json:"mimeType,omitempty"`
	Data          string `json:"data"`
}

func (b *blob) mimeType() string {
	if b.MimeTypeCamel != "" {
		return b.MimeTypeCamel
	}
	return b.MimeType
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// ErrorEnvelope is the error body returned by the API.
type ErrorEnvelope struct {
	Error *ErrorBody `json:"error"`
}

// ErrorBody carries the structured error fields.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
