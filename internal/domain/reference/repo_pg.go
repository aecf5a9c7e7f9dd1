package reference

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) ListDiseases(ctx context.Context) ([]Disease, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.disease_id, d.code, d.name,
			c.category_id, c.name,
			s.system_id, s.name
		FROM diseases d
		JOIN categories c ON c.category_id = d.category_id
		JOIN systems s ON s.system_id = c.system_id
		ORDER BY s.name, c.name, d.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Disease
	for rows.Next() {
		var d Disease
		err := rows.Scan(&d.DiseaseID, &d.Code, &d.Name,
			&d.CategoryID, &d.CategoryName,
			&d.SystemID, &d.SystemName)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
