// Package elastic 提供基于 Elasticsearch 的向量索引实现。
// 每次索引构建对应一个独立的物理索引（<prefix>-<buildID>），
// 重建即新建索引，旧索引在替换后整体删除。
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"diagnosify-go/internal/config"
	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const mappingTemplate = `{
	"mappings": {
		"properties": {
			"source": { "type": "keyword" },
			"chunk_id": { "type": "integer" },
			"text_content": { "type": "text" },
			"vector": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			}
		}
	}
}`

// NewESClient 根据配置初始化一个 Elasticsearch 客户端。
func NewESClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// Index 是一个会话专属的 Elasticsearch 向量索引。
type Index struct {
	client    *elasticsearch.Client
	indexName string
	count     int
}

// New 创建一个物理索引。buildID 保证索引名唯一，dims 为嵌入向量维度。
func New(client *elasticsearch.Client, prefix, buildID string, dims int) (*Index, error) {
	indexName := fmt.Sprintf("%s-%s", prefix, strings.ToLower(buildID))
	mapping := fmt.Sprintf(mappingTemplate, dims)

	res, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return nil, fmt.Errorf("创建索引 '%s' 失败: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
	}

	log.Infof("[ElasticIndex] 索引 '%s' 创建成功", indexName)
	return &Index{client: client, indexName: indexName}, nil
}

// Upsert 将分块逐条索引到会话索引中。
func (idx *Index) Upsert(ctx context.Context, chunks []model.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("分块与向量数量不一致")
	}
	for i, chunk := range chunks {
		doc := model.EsChunkDocument{
			Source:      chunk.Source,
			ChunkID:     chunk.ChunkID,
			TextContent: chunk.Text,
			Vector:      vectors[i],
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		req := esapi.IndexRequest{
			Index:      idx.indexName,
			DocumentID: fmt.Sprintf("%s_%d", chunk.Source, chunk.ChunkID),
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, idx.client)
		if err != nil {
			return fmt.Errorf("索引分块 %d 失败: %w", chunk.ChunkID, err)
		}
		if res.IsError() {
			res.Body.Close()
			return fmt.Errorf("索引分块 %d 时 Elasticsearch 返回错误: %s", chunk.ChunkID, res.String())
		}
		res.Body.Close()
	}
	idx.count += len(chunks)
	return nil
}

// Search 执行 kNN 检索并返回候选，_source 中带回存储的向量。
func (idx *Index) Search(ctx context.Context, vector []float32, topK int) ([]vectorindex.Candidate, error) {
	if idx.count == 0 {
		return nil, vectorindex.ErrEmptyIndex
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
		},
		"size": topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := idx.client.Search(
		idx.client.Search.WithContext(ctx),
		idx.client.Search.WithIndex(idx.indexName),
		idx.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ElasticIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunkDocument `json:"_source"`
				Score  float64               `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]vectorindex.Candidate, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, vectorindex.Candidate{
			Chunk: model.DocumentChunk{
				Source:  hit.Source.Source,
				ChunkID: hit.Source.ChunkID,
				Text:    hit.Source.TextContent,
			},
			Vector: hit.Source.Vector,
			Score:  hit.Score,
		})
	}
	return results, nil
}

// Close 删除会话索引。
func (idx *Index) Close(ctx context.Context) error {
	res, err := idx.client.Indices.Delete(
		[]string{idx.indexName},
		idx.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("删除索引 '%s' 失败: %w", idx.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("删除索引 '%s' 时 Elasticsearch 返回错误: %s", idx.indexName, res.String())
	}
	log.Infof("[ElasticIndex] 索引 '%s' 已删除", idx.indexName)
	return nil
}
