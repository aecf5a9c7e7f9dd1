package reference

import "context"

type Repository interface {
	ListDiseases(ctx context.Context) ([]Disease, error)
}
