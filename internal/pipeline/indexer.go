// Package pipeline 定义了文档索引构建的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/pkg/embedding"
	"diagnosify-go/pkg/log"
)

// ErrNoUsableText 表示没有任何文档产出可用文本，索引构建失败。
var ErrNoUsableText = errors.New("未能从任何文档中提取到有效文本")

// TextExtractor 是文本提取能力的边界：给定文件路径，产出原始文本。
type TextExtractor interface {
	ExtractFile(ctx context.Context, filePath string) (string, error)
}

// IndexFactory 创建一个空的向量索引，由上层决定后端实现。
type IndexFactory func() (vectorindex.Index, error)

// Source 是一个待索引的文档来源。
type Source struct {
	Name   string
	Reader io.Reader
}

// Indexer 封装了索引构建的所有依赖：提取、分块、向量化、索引。
// 索引与查询共用同一个 embedding 客户端实例，由调用方注入保证。
type Indexer struct {
	extractor       TextExtractor
	embeddingClient embedding.Client
	splitter        *Splitter
	newIndex        IndexFactory
	tempDir         string
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(
	extractor TextExtractor,
	embeddingClient embedding.Client,
	splitter *Splitter,
	newIndex IndexFactory,
	tempDir string,
) *Indexer {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Indexer{
		extractor:       extractor,
		embeddingClient: embeddingClient,
		splitter:        splitter,
		newIndex:        newIndex,
		tempDir:         tempDir,
	}
}

// BuildIndex 从一组文档来源构建一个完整的向量索引。
// 单个文档提取失败只影响该文档；所有文档都无有效文本时
// 返回 ErrNoUsableText。返回的索引构建完整，调用方整体替换旧索引。
func (p *Indexer) BuildIndex(ctx context.Context, sources []Source) (vectorindex.Index, error) {
	log.Infof("[Indexer] 开始构建索引, 文档数: %d", len(sources))

	// 1. 逐个文档提取文本
	var chunks []model.DocumentChunk
	extracted := 0
	for _, src := range sources {
		text, err := p.extractSource(ctx, src)
		if err != nil {
			log.Errorf("[Indexer] 文档 '%s' 提取失败, 跳过: %v", src.Name, err)
			continue
		}
		if text == "" {
			log.Warnf("[Indexer] 文档 '%s' 提取结果为空, 跳过", src.Name)
			continue
		}
		extracted++
		log.Infof("[Indexer] 文档 '%s' 提取成功, 内容长度: %d 字符", src.Name, utf8.RuneCountInString(text))

		// 2. 文本切块
		pieces := p.splitter.Split(text)
		for i, piece := range pieces {
			chunks = append(chunks, model.DocumentChunk{
				Source:  src.Name,
				ChunkID: i,
				Text:    piece,
			})
		}
		log.Infof("[Indexer] 文档 '%s' 分块完成, 共 %d 个分块", src.Name, len(pieces))
	}

	if extracted == 0 || len(chunks) == 0 {
		return nil, ErrNoUsableText
	}

	// 3. 批量向量化
	log.Infof("[Indexer] 开始向量化 %d 个分块", len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("分块向量化失败: %w", err)
	}

	// 4. 写入新索引
	idx, err := p.newIndex()
	if err != nil {
		return nil, fmt.Errorf("创建向量索引失败: %w", err)
	}
	if err := idx.Upsert(ctx, chunks, vectors); err != nil {
		_ = idx.Close(ctx)
		return nil, fmt.Errorf("写入向量索引失败: %w", err)
	}

	log.Infof("[Indexer] 索引构建完成, 共 %d 个分块", len(chunks))
	return idx, nil
}

// extractSource 将文档流落盘为临时文件后提取文本。
// 临时文件在提取结束后删除，无论成功与否。
func (p *Indexer) extractSource(ctx context.Context, src Source) (string, error) {
	tmpFile, err := os.CreateTemp(p.tempDir, "report-*"+filepath.Ext(src.Name))
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			log.Warnf("[Indexer] 删除临时文件失败: %s, err=%v", tmpPath, removeErr)
		}
	}()

	if _, err := io.Copy(tmpFile, src.Reader); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("关闭临时文件失败: %w", err)
	}

	return p.extractor.ExtractFile(ctx, tmpPath)
}
