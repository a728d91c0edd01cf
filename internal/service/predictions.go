package service

import (
	"context"

	"pricecontest/internal/models"
	"pricecontest/internal/repository"
)

// predictionPageSize matches the largest page the store hands out.
const predictionPageSize = 500

// allPredictions pages through ListPredictions until a short page. Rows are ordered by
// (user_id, asset), which is unique within a period, so pages neither overlap nor skip.
func allPredictions(ctx context.Context, repo repository.Repository, params repository.ListPredictionsParams) ([]models.Prediction, error) {
	asc := true
	params.OrderBy = "user_id"
	params.Asc = &asc
	params.Limit = predictionPageSize
	params.Offset = 0

	var out []models.Prediction
	for {
		page, err := repo.ListPredictions(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < predictionPageSize {
			return out, nil
		}
		params.Offset += len(page)
	}
}
