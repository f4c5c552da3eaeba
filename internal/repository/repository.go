package repository

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func nullString(val string) interface{} {
	if val == "" {
		return nil
	}
	return val
}

func decodeJSONMap(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// jsonbValue makes any upstream body storable in a jsonb column. Bodies that
// are not JSON objects are wrapped as {"raw": "..."}.
func jsonbValue(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return raw
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return []byte("{}")
	}
	return wrapped
}
