package service

import (
	"context"
	"fmt"

	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
)

// Job actions the default handlers cover.
const (
	ActionImportProduct = "import_product"
	ActionUpdateProduct = "update_product"
	ActionBulkSearch    = "bulk_search"
)

// RegisterDefaultHandlers wires the built-in job actions to the
// provider manager.
func RegisterDefaultHandlers(queue *QueueService, manager *Manager) {
	queue.RegisterHandler(ActionImportProduct, fetchProductHandler(manager))
	queue.RegisterHandler(ActionUpdateProduct, refreshProductHandler(manager))
	queue.RegisterHandler(ActionBulkSearch, bulkSearchHandler(manager))
}

// fetchProductHandler resolves a product through the provider chain
// and stores the normalized payload as the job result.
func fetchProductHandler(manager *Manager) HandlerFunc {
	return func(ctx context.Context, job *domain.Job) (map[string]any, error) {
		asin, opts, err := productArgs(job)
		if err != nil {
			return nil, err
		}

		resp := manager.GetProduct(ctx, asin, opts)
		if resp == nil {
			return nil, fmt.Errorf("all providers failed for product %s", asin)
		}

		return resp.Data, nil
	}
}

// refreshProductHandler drops the cached copy on every provider before
// re-fetching, so the result reflects live upstream data.
func refreshProductHandler(manager *Manager) HandlerFunc {
	return func(ctx context.Context, job *domain.Job) (map[string]any, error) {
		asin, opts, err := productArgs(job)
		if err != nil {
			return nil, err
		}

		params := opts.Params()
		params["asin"] = asin
		for _, key := range manager.ProviderKeys() {
			if p, ok := manager.Provider(key); ok {
				_ = p.ClearCache(ctx, cache.GenerateKey("product", params, key))
			}
		}

		resp := manager.GetProduct(ctx, asin, opts)
		if resp == nil {
			return nil, fmt.Errorf("all providers failed for product %s", asin)
		}

		return resp.Data, nil
	}
}

// bulkSearchHandler runs one keyword search per job.
func bulkSearchHandler(manager *Manager) HandlerFunc {
	return func(ctx context.Context, job *domain.Job) (map[string]any, error) {
		keyword, _ := job.Payload["keyword"].(string)
		if keyword == "" {
			return nil, fmt.Errorf("bulk_search payload requires keyword")
		}

		resp := manager.SearchProducts(ctx, keyword, jobOptions(job))
		if resp == nil {
			return nil, fmt.Errorf("all providers failed for search %q", keyword)
		}

		return resp.Data, nil
	}
}

func productArgs(job *domain.Job) (string, domain.RequestOptions, error) {
	asin, _ := job.Payload["asin"].(string)
	if asin == "" {
		return "", domain.RequestOptions{}, fmt.Errorf("%s payload requires asin", job.Action)
	}

	return asin, jobOptions(job), nil
}

// jobOptions extracts the shared request options from a job payload.
func jobOptions(job *domain.Job) domain.RequestOptions {
	opts := domain.RequestOptions{}
	if marketplace, ok := job.Payload["marketplace"].(string); ok {
		opts.Marketplace = marketplace
	}
	if category, ok := job.Payload["category"].(string); ok {
		opts.Category = category
	}
	if page, ok := job.Payload["page"].(float64); ok {
		opts.Page = int(page)
	}

	return opts
}
