package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mlforge/core/pkg/apierr"
	"github.com/mlforge/core/pkg/dataprep"
)

// FetchTrainingRows resolves a training-data provider by the source's scheme
// (spec.md §4.2 "Pipeline": "document-store collection name vs. URL vs.
// future object-store URI") and returns up to limit rows.
//
// Supported schemes:
//   - "mongodb://database/collection" — read from the configured Mongo client.
//   - "http://" or "https://" — GET a JSON array of row objects.
//   - anything else — treated as a local JSON file path (development/test source).
func FetchTrainingRows(ctx context.Context, mongoClient *mongo.Client, source string, limit int) ([]dataprep.Row, error) {
	switch {
	case strings.HasPrefix(source, "mongodb://"):
		return fetchFromMongo(ctx, mongoClient, source, limit)
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		return fetchFromURL(ctx, source, limit)
	default:
		return fetchFromFile(source, limit)
	}
}

// fetchFromMongo expects source shaped "mongodb://<database>/<collection>";
// the actual connection URI lives on the already-dialed mongoClient.
func fetchFromMongo(ctx context.Context, client *mongo.Client, source string, limit int) ([]dataprep.Row, error) {
	if client == nil {
		return nil, apierr.Validation("training source %q requires a configured mongo client", source)
	}
	trimmed := strings.TrimPrefix(source, "mongodb://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, apierr.Validation("training source %q must be mongodb://<database>/<collection>", source)
	}
	database, collectionName := parts[0], parts[1]

	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	collection := client.Database(database).Collection(collectionName)
	cursor, err := collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, apierr.Training(err, "mongo query failed for %s", source)
	}
	defer cursor.Close(ctx)

	var rows []dataprep.Row
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, apierr.Training(err, "failed to decode document from %s", source)
		}
		row := make(dataprep.Row, len(doc))
		for k, v := range doc {
			if k == "_id" {
				continue
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, apierr.Training(err, "cursor error reading %s", source)
	}
	return rows, nil
}

func fetchFromURL(ctx context.Context, source string, limit int) ([]dataprep.Row, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, source, nil)
	if err != nil {
		return nil, apierr.Validation("invalid training source URL %q: %v", source, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apierr.Training(err, "failed to fetch training data from %s", source)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Training(nil, "training source %s returned status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Training(err, "failed to read training data from %s", source)
	}
	return decodeRows(body, limit, source)
}

func fetchFromFile(path string, limit int) ([]dataprep.Row, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Validation("failed to read training source %q: %v", path, err)
	}
	return decodeRows(body, limit, path)
}

func decodeRows(body []byte, limit int, source string) ([]dataprep.Row, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apierr.Validation("training source %s is not a JSON array of row objects: %v", source, err)
	}
	rows := make([]dataprep.Row, 0, len(raw))
	for i, r := range raw {
		if limit > 0 && i >= limit {
			break
		}
		row := make(dataprep.Row, len(r))
		for k, v := range r {
			row[k] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("training source %s produced zero rows", source)
	}
	return rows, nil
}
