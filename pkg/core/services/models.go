// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/schema"
)

// ModelsService exposes the model enumeration over the OpenAI listing shape.
type ModelsService struct {
	catalog *catalog.Catalog
}

// NewModelsService creates a new models service backed by the catalog.
func NewModelsService(cat *catalog.Catalog) *ModelsService {
	return &ModelsService{catalog: cat}
}

// ListModels returns every model the gateway can route to.
func (s *ModelsService) ListModels(ctx context.Context) (*schema.ListModelsResponse, error) {
	now := time.Now().Unix()
	infos := s.catalog.List()
	data := make([]schema.Model, 0, len(infos))
	for _, info := range infos {
		data = append(data, schema.Model{
			ID:      info.ID,
			Object:  "model",
			Created: now,
			OwnedBy: modelOwner(info),
		})
	}
	return &schema.ListModelsResponse{Object: "list", Data: data}, nil
}

// GetModel returns information about a specific model. Aliases resolve to
// their canonical entry.
func (s *ModelsService) GetModel(ctx context.Context, modelID string) (*schema.Model, error) {
	resolved, ok := s.catalog.ResolveModel(modelID, "")
	if !ok {
		return nil, fmt.Errorf("model not found: %s", modelID)
	}
	info, _ := s.catalog.Get(resolved)
	return &schema.Model{
		ID:      info.ID,
		Object:  "model",
		Created: time.Now().Unix(),
		OwnedBy: modelOwner(info),
	}, nil
}

func modelOwner(info catalog.ModelInfo) string {
	if len(info.Providers) > 0 {
		return info.Providers[0]
	}
	return "workflowai"
}
