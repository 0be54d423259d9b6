package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v9"
)

type UserDoc struct {
	Username    string `json:"username"`
	IsModerator bool   `json:"isModerator"`
}

// UserIndex mirrors the user directory into an Elasticsearch index for
// free-text lookups. The Credential Store stays the source of truth.
type UserIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewUserIndex(client *elasticsearch.Client, index string) *UserIndex {
	return &UserIndex{client: client, index: index}
}

func (u *UserIndex) IndexUser(ctx context.Context, doc UserDoc) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode user doc: %w", err)
	}

	res, err := u.client.Index(
		u.index,
		&buf,
		u.client.Index.WithContext(ctx),
		u.client.Index.WithDocumentID(doc.Username),
		u.client.Index.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("index user: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index user: %s: %s", res.Status(), body)
	}
	return nil
}

func (u *UserIndex) SearchUsers(ctx context.Context, query string, from, size int) ([]UserDoc, error) {
	body := map[string]any{
		"query": map[string]any{
			"match": map[string]any{
				"username": map[string]any{
					"query":     query,
					"fuzziness": "AUTO",
				},
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	res, err := u.client.Search(
		u.client.Search.WithContext(ctx),
		u.client.Search.WithIndex(u.index),
		u.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search users: %s: %s", res.Status(), raw)
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source UserDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}

	docs := make([]UserDoc, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		docs[i] = hit.Source
	}
	return docs, nil
}
