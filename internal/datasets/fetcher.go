package datasets

import (
	"context"
	"fmt"
)

// FetchFunc fetches the raw bytes for a dataset id, grounded on fetcher.py's
// fetch_dataset. It is swappable so API-mode staging can be exercised
// against a real dataset service in production and a stub in tests.
type FetchFunc func(ctx context.Context, dsID string) ([]byte, error)

// PlaceholderFetch is the default FetchFunc, grounded on fetcher.py's own
// placeholder implementation pending a real dataset-service client.
func PlaceholderFetch(ctx context.Context, dsID string) ([]byte, error) {
	return []byte(fmt.Sprintf("PARQUET_BYTES_FOR::%s", dsID)), nil
}
