// Package gemini is the client for the primary generative service.
//
// Credentials travel in the "key" query parameter. Requests carry the prompt
// as a text part and an optional input image as an inline_data part;
// responses are reduced to at most one text part and one image part.
//
// A 2xx response without an image part is reported as
// *providers.NoArtifactError. A 400 whose error message rejects the key is
// reported as *providers.AuthError.
//
// The same client serves as the health probe: Probe calls the model
// listing endpoint and returns the raw response for classification.
package gemini
