// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Model is one entry of the model listing endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModelsResponse is the wire shape of GET /v1/models.
type ListModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
