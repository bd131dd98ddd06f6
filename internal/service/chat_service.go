// Package service 实现了业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diagnosify-go/internal/config"
	"diagnosify-go/internal/repository"
	"diagnosify-go/internal/retriever"
	"diagnosify-go/internal/session"
	"diagnosify-go/pkg/llm"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/tasks"
)

// ErrStreamStopped 表示用户主动中断了本次回答的流式输出。
var ErrStreamStopped = errors.New("用户已停止本次回答")

// TaskPublisher 定义了评估任务的投递接口，
// 由 Kafka 生产者或进程内派发器实现。
type TaskPublisher interface {
	Publish(task tasks.EvaluationTask) error
}

// 内置提示词，可被配置覆盖。
const (
	defaultPromptRules = "你是一名医疗报告分析助手。你只能依据下方提供的报告摘录回答用户的问题：\n" +
		"1. 回答必须完全基于报告摘录的内容，不得编造报告中不存在的数值或结论。\n" +
		"2. 如果摘录中没有足够的信息回答问题，明确告知用户报告中未包含该信息。\n" +
		"3. 涉及诊断和治疗时提醒用户咨询专业医生，你的解读仅供参考。\n" +
		"4. 使用通俗易懂的语言解释医学术语。"
	defaultRefStart     = "以下是本次分析的报告摘录：\n<report>\n"
	defaultRefEnd       = "\n</report>"
	defaultNoResultText = "报告中没有找到与您的问题相关的内容，请尝试换一种问法，或确认报告已上传并完成解析。"
)

// ChatService 定义了问答合成的操作接口。
type ChatService interface {
	// StreamAnswer 针对会话中的一个问题生成有据回答并流式写出。
	// 成功时追加对话记忆并投递评估任务；任何失败都不产生记忆回合。
	StreamAnswer(ctx context.Context, sess *session.Session, question string, conn llm.MessageWriter, shouldStop func() bool) error
	// NoResultText 返回索引无可用内容时发给用户的提示文案。
	NoResultText() string
}

type chatService struct {
	retriever *retriever.Retriever
	convRepo  repository.ConversationRepository
	llmClient llm.Client
	publisher TaskPublisher
	prompt    config.PromptConfig
}

// NewChatService 创建一个 ChatService 实例。publisher 可为 nil，表示不做评估。
func NewChatService(
	r *retriever.Retriever,
	convRepo repository.ConversationRepository,
	llmClient llm.Client,
	publisher TaskPublisher,
	prompt config.PromptConfig,
) ChatService {
	return &chatService{
		retriever: r,
		convRepo:  convRepo,
		llmClient: llmClient,
		publisher: publisher,
		prompt:    prompt,
	}
}

// wsWriterInterceptor 包装 WebSocket 写入器，在转发流式分块的同时
// 累积完整回答，并响应用户的停止请求。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	fullAnswer strings.Builder
	shouldStop func() bool
}

func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		return ErrStreamStopped
	}
	w.fullAnswer.Write(data)
	return w.conn.WriteMessage(messageType, data)
}

// StreamAnswer 执行一次完整的问答合成：
// 检索分块 -> 组装有据提示 -> 流式生成 -> 追加记忆 -> 投递评估。
func (s *chatService) StreamAnswer(ctx context.Context, sess *session.Session, question string, conn llm.MessageWriter, shouldStop func() bool) error {
	index, err := sess.Index()
	if err != nil {
		return err
	}

	// 1. 检索与问题最相关的报告分块
	chunks, err := s.retriever.Retrieve(ctx, index, question)
	if err != nil {
		if errors.Is(err, retriever.ErrEmptyIndex) {
			return session.ErrIndexNotReady
		}
		return fmt.Errorf("检索报告分块失败: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	// 评估记录保存的 retrieved_context 与提示词中使用的是同一个字符串
	contextText := strings.Join(texts, "\n\n")

	// 2. 读取对话历史。读取失败不阻断本次回答，按无历史处理。
	history, err := s.convRepo.History(ctx, sess.ID)
	if err != nil {
		log.Errorf("[ChatService] 读取对话历史失败, session: %s, err: %v", sess.ID, err)
		history = nil
	}

	// 3. 组装消息序列：系统提示 + 历史回合 + 当前问题
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: s.buildSystemPrompt(contextText)})
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	// 4. 流式生成回答
	interceptor := &wsWriterInterceptor{conn: conn, shouldStop: shouldStop}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor); err != nil {
		if errors.Is(err, ErrStreamStopped) {
			log.Infof("[ChatService] 回答被用户中断, session: %s", sess.ID)
			return ErrStreamStopped
		}
		// 合成失败：不追加记忆，不投递评估
		return fmt.Errorf("生成回答失败: %w", err)
	}

	answer := interceptor.fullAnswer.String()
	log.Infof("[ChatService] 回答生成完毕, session: %s, 长度: %d", sess.ID, len(answer))

	// 5. 追加对话记忆：一次成功交互恰好产生 user/assistant 两条消息
	if err := s.convRepo.AppendExchange(ctx, sess.ID, question, answer); err != nil {
		log.Errorf("[ChatService] 追加对话记忆失败, session: %s, err: %v", sess.ID, err)
	}

	// 6. 投递评估任务。评估是非关键路径，失败只记录日志。
	if s.publisher != nil {
		task := tasks.EvaluationTask{
			UserID:           sess.ID,
			Question:         question,
			GeneratedAnswer:  answer,
			RetrievedContext: contextText,
		}
		if err := s.publisher.Publish(task); err != nil {
			log.Errorf("[ChatService] 投递评估任务失败, session: %s, err: %v", sess.ID, err)
		}
	}

	return nil
}

// buildSystemPrompt 将规则与报告摘录组装成系统提示。
func (s *chatService) buildSystemPrompt(contextText string) string {
	rules := s.prompt.Rules
	if rules == "" {
		rules = defaultPromptRules
	}
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}

	var b strings.Builder
	b.WriteString(rules)
	b.WriteString("\n\n")
	b.WriteString(refStart)
	b.WriteString(contextText)
	b.WriteString(refEnd)
	return b.String()
}

// NoResultText 返回检索无结果时发给用户的提示文案。
func (s *chatService) NoResultText() string {
	if s.prompt.NoResultText != "" {
		return s.prompt.NoResultText
	}
	return defaultNoResultText
}
